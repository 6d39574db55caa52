package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AltairaLabs/voicebridge/logger"
	"github.com/AltairaLabs/voicebridge/types"
)

const timeoutErrPrefix = "tool timed out"

// Dispatcher runs tool calls asynchronously against a registry. Every call
// produces exactly one ToolCallResult; failures become error results, never
// panics or dropped calls.
type Dispatcher struct {
	registry       *Registry
	defaultTimeout time.Duration
	log            *slog.Logger
}

// NewDispatcher creates a dispatcher over a registry with DefaultTimeout as
// the fallback for handlers that do not set their own.
func NewDispatcher(registry *Registry) *Dispatcher {
	return NewDispatcherWithTimeout(registry, DefaultTimeout)
}

// NewDispatcherWithTimeout creates a dispatcher with a configured fallback
// timeout. Non-positive values fall back to DefaultTimeout.
func NewDispatcherWithTimeout(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		registry:       registry,
		defaultTimeout: timeout,
		log:            logger.DefaultLogger,
	}
}

// timeoutFor resolves the deadline for one call. A handler's own Timeout
// wins over the dispatcher fallback.
func (d *Dispatcher) timeoutFor(handler *Handler) time.Duration {
	if handler.Timeout > 0 {
		return handler.Timeout
	}
	return d.defaultTimeout
}

// Dispatch starts the tool call in its own goroutine and returns a channel
// that delivers the single result. The channel is buffered, so the result is
// never lost even if the consumer is slow.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.ToolCallRequest) <-chan types.ToolCallResult {
	out := make(chan types.ToolCallResult, 1)
	go func() {
		out <- d.run(ctx, req)
	}()
	return out
}

// IsTimeout reports whether a result's error came from the per-call deadline.
func IsTimeout(res types.ToolCallResult) bool {
	return strings.HasPrefix(res.Err, timeoutErrPrefix)
}

func (d *Dispatcher) run(ctx context.Context, req types.ToolCallRequest) types.ToolCallResult {
	handler := d.registry.Get(req.Name)
	if handler == nil {
		d.log.Warn("tool call for unknown tool", "tool", req.Name, "call_id", req.ID)
		return errorResult(req, fmt.Sprintf("unknown tool %q", req.Name))
	}

	if err := d.registry.validator.ValidateArgs(req.Name, req.Args); err != nil {
		d.log.Warn("tool call arguments rejected", "tool", req.Name, "call_id", req.ID, "error", err)
		return errorResult(req, err.Error())
	}

	timeout := d.timeoutFor(handler)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	result, err := d.execute(callCtx, handler, req.Args)
	elapsed := time.Since(started)

	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		d.log.Warn("tool call timed out", "tool", req.Name, "call_id", req.ID, "timeout", timeout)
		return errorResult(req, fmt.Sprintf("%s after %s", timeoutErrPrefix, timeout))
	case err != nil:
		d.log.Warn("tool call failed", "tool", req.Name, "call_id", req.ID, "error", err, "elapsed", elapsed)
		return errorResult(req, err.Error())
	}

	d.log.Debug("tool call completed", "tool", req.Name, "call_id", req.ID, "elapsed", elapsed)
	return types.ToolCallResult{ID: req.ID, Name: req.Name, Result: result}
}

// execute runs the handler in its own goroutine so a handler that ignores
// its context cannot stall the dispatcher past the deadline.
func (d *Dispatcher) execute(ctx context.Context, handler *Handler, args json.RawMessage) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler.Fn(ctx, args)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func errorResult(req types.ToolCallRequest, msg string) types.ToolCallResult {
	return types.ToolCallResult{ID: req.ID, Name: req.Name, Err: msg}
}
