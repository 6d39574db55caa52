package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/voicebridge/config"
	"github.com/AltairaLabs/voicebridge/types"
)

func weatherRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	err := r.Register("get_weather", Handler{
		Description: "Look up the weather",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`),
		Fn: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"temp_c": 21}`), nil
		},
	})
	require.NoError(t, err)
	return r
}

func awaitResult(t *testing.T, ch <-chan types.ToolCallResult) types.ToolCallResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tool result")
		return types.ToolCallResult{}
	}
}

func TestRegistry_Register(t *testing.T) {
	r := weatherRegistry(t)

	assert.NotNil(t, r.Get("get_weather"))
	assert.Nil(t, r.Get("nope"))
	assert.Equal(t, []string{"get_weather"}, r.List())

	err := r.Register("get_weather", Handler{Fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}})
	assert.Error(t, err, "duplicate registration should fail")

	err = r.Register("broken", Handler{
		InputSchema: json.RawMessage(`{"type": 42}`),
		Fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, nil
		},
	})
	assert.Error(t, err, "invalid schema should fail at registration")

	err = r.Register("no_fn", Handler{})
	assert.Error(t, err)
}

func TestRegistry_Declarations(t *testing.T) {
	r := weatherRegistry(t)
	require.NoError(t, RegisterEndCall(r))

	decls := r.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, "get_weather", decls[0].Name)
	assert.Equal(t, "object", decls[0].Parameters["type"])
	assert.Equal(t, EndCallName, decls[1].Name)
	assert.NotEmpty(t, decls[1].Description)
}

func TestDispatch_Success(t *testing.T) {
	d := NewDispatcher(weatherRegistry(t))

	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{
		ID:   "call-1",
		Name: "get_weather",
		Args: json.RawMessage(`{"city": "Oslo"}`),
	}))

	assert.False(t, res.IsError())
	assert.Equal(t, "call-1", res.ID)
	assert.Equal(t, "get_weather", res.Name)
	assert.JSONEq(t, `{"temp_c": 21}`, string(res.Result))
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := NewDispatcher(weatherRegistry(t))

	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{
		ID:   "call-2",
		Name: "launch_rocket",
	}))

	assert.True(t, res.IsError())
	assert.Contains(t, res.Err, "unknown tool")
	assert.Equal(t, "call-2", res.ID)
}

func TestDispatch_InvalidArgs(t *testing.T) {
	d := NewDispatcher(weatherRegistry(t))

	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{
		ID:   "call-3",
		Name: "get_weather",
		Args: json.RawMessage(`{"city": 42}`),
	}))

	assert.True(t, res.IsError())
	assert.False(t, IsTimeout(res))
}

func TestDispatch_HandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("flaky", Handler{
		Fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("backend unavailable")
		},
	}))
	d := NewDispatcher(r)

	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{ID: "call-4", Name: "flaky"}))

	assert.True(t, res.IsError())
	assert.Equal(t, "backend unavailable", res.Err)
	assert.False(t, IsTimeout(res))
}

func TestDispatch_Timeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("slow", Handler{
		Timeout: 50 * time.Millisecond,
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case <-time.After(5 * time.Second):
				return json.RawMessage(`{}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))
	d := NewDispatcher(r)

	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{ID: "call-5", Name: "slow"}))

	assert.True(t, res.IsError())
	assert.True(t, IsTimeout(res), "error should be classified as a timeout: %s", res.Err)
}

func TestDispatch_ConfiguredDefaultTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.ToolTimeoutSecs = 1

	r := NewRegistry()
	require.NoError(t, r.Register("slow", Handler{
		// No per-handler Timeout: the dispatcher fallback applies.
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case <-time.After(time.Minute):
				return json.RawMessage(`{}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))
	d := NewDispatcherWithTimeout(r, cfg.Bridge.ToolTimeout())

	start := time.Now()
	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{ID: "call-8", Name: "slow"}))

	assert.True(t, IsTimeout(res), "error should be classified as a timeout: %s", res.Err)
	assert.Less(t, time.Since(start), 3*time.Second, "configured timeout should bound the call")
	assert.Contains(t, res.Err, "1s")
}

func TestDispatch_HandlerTimeoutWinsOverDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("slow", Handler{
		Timeout: 50 * time.Millisecond,
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	d := NewDispatcherWithTimeout(r, time.Hour)

	start := time.Now()
	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{ID: "call-9", Name: "slow"}))

	assert.True(t, IsTimeout(res))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDispatch_TimeoutWithStubbornHandler(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r := NewRegistry()
	require.NoError(t, r.Register("stubborn", Handler{
		Timeout: 50 * time.Millisecond,
		Fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			// Ignores its context entirely.
			<-release
			return json.RawMessage(`{}`), nil
		},
	}))
	d := NewDispatcher(r)

	start := time.Now()
	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{ID: "call-6", Name: "stubborn"}))

	assert.True(t, IsTimeout(res))
	assert.Less(t, time.Since(start), 3*time.Second, "dispatcher must not wait for a stuck handler")
}

func TestEndCall(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterEndCall(r))
	d := NewDispatcher(r)

	res := awaitResult(t, d.Dispatch(context.Background(), types.ToolCallRequest{ID: "call-7", Name: EndCallName, Args: json.RawMessage(`{}`)}))

	require.False(t, res.IsError())
	assert.True(t, IsEndCall(res))
	assert.JSONEq(t, `{"status":"call_ending"}`, string(res.Result))

	assert.False(t, IsEndCall(types.ToolCallResult{Name: "get_weather"}))
	assert.False(t, IsEndCall(types.ToolCallResult{Name: EndCallName, Err: "boom"}))
}
