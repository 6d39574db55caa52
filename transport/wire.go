// Package transport provides the local session endpoint: the abstract
// bidirectional frame channel to the end user's client, plus the binary
// envelope codec it speaks.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/AltairaLabs/voicebridge/types"
)

// The envelope is protobuf wire format encoded by hand for a fixed schema.
// Field numbers are frozen: the deployed client decodes by number, so
// renumbering is a breaking protocol change.
//
//	1  kind          varint   (wireKind* constants)
//	2  audio         bytes    raw PCM16 payload
//	3  sample_rate   varint
//	4  channels      varint
//	5  text          bytes    UTF-8
//	6  final         varint   bool
//	7  tool_id       bytes
//	8  tool_name     bytes
//	9  tool_args     bytes    JSON
//	10 tool_result   bytes    JSON
//	11 tool_error    bytes
//	12 error_kind    bytes
//	13 error_message bytes
//	14 timestamp_us  varint   microseconds since epoch
const (
	fieldKind         = 1
	fieldAudio        = 2
	fieldSampleRate   = 3
	fieldChannels     = 4
	fieldText         = 5
	fieldFinal        = 6
	fieldToolID       = 7
	fieldToolName     = 8
	fieldToolArgs     = 9
	fieldToolResult   = 10
	fieldToolError    = 11
	fieldErrorKind    = 12
	fieldErrorMessage = 13
	fieldTimestampUS  = 14
)

// Wire identifiers for Frame variants. Stable, never reordered.
const (
	wireKindAudio      = 1
	wireKindTurnStart  = 2
	wireKindTurnEnd    = 3
	wireKindText       = 4
	wireKindToolCall   = 5
	wireKindToolResult = 6
	wireKindError      = 7
)

// Protobuf wire types.
const (
	wtVarint = 0
	wtLen    = 2
)

// MaxEnvelopeSize bounds a single envelope. Larger messages are rejected
// rather than buffered.
const MaxEnvelopeSize = 1 << 20

// ErrTruncated is returned when an envelope ends mid-field.
var ErrTruncated = errors.New("truncated envelope")

// Marshal encodes a frame into its binary envelope.
func Marshal(frame types.Frame) ([]byte, error) {
	var b []byte
	switch f := frame.(type) {
	case types.AudioChunk:
		b = appendVarintField(b, fieldKind, wireKindAudio)
		b = appendBytesField(b, fieldAudio, f.Data)
		b = appendVarintField(b, fieldSampleRate, uint64(f.SampleRate))
		b = appendVarintField(b, fieldChannels, uint64(f.Channels))
		if !f.Timestamp.IsZero() {
			b = appendVarintField(b, fieldTimestampUS, uint64(f.Timestamp.UnixMicro()))
		}
	case types.TurnStart:
		b = appendVarintField(b, fieldKind, wireKindTurnStart)
	case types.TurnEnd:
		b = appendVarintField(b, fieldKind, wireKindTurnEnd)
	case types.TextDelta:
		b = appendVarintField(b, fieldKind, wireKindText)
		b = appendBytesField(b, fieldText, []byte(f.Text))
		if f.Final {
			b = appendVarintField(b, fieldFinal, 1)
		}
	case types.ToolCallRequest:
		b = appendVarintField(b, fieldKind, wireKindToolCall)
		b = appendBytesField(b, fieldToolID, []byte(f.ID))
		b = appendBytesField(b, fieldToolName, []byte(f.Name))
		b = appendBytesField(b, fieldToolArgs, f.Args)
	case types.ToolCallResult:
		b = appendVarintField(b, fieldKind, wireKindToolResult)
		b = appendBytesField(b, fieldToolID, []byte(f.ID))
		b = appendBytesField(b, fieldToolName, []byte(f.Name))
		b = appendBytesField(b, fieldToolResult, f.Result)
		if f.Err != "" {
			b = appendBytesField(b, fieldToolError, []byte(f.Err))
		}
	case types.ControlError:
		b = appendVarintField(b, fieldKind, wireKindError)
		b = appendBytesField(b, fieldErrorKind, []byte(f.ErrKind))
		b = appendBytesField(b, fieldErrorMessage, []byte(f.Message))
	default:
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	return b, nil
}

// Unmarshal decodes a binary envelope back into a frame. Unknown fields
// are skipped so older bridges tolerate newer clients.
func Unmarshal(data []byte) (types.Frame, error) {
	if len(data) > MaxEnvelopeSize {
		return nil, fmt.Errorf("envelope of %d bytes exceeds limit", len(data))
	}

	var (
		kind            uint64
		audio           []byte
		sampleRate      uint64
		channels        uint64
		text            string
		final           bool
		toolID          string
		toolName        string
		toolArgs        []byte
		toolResult      []byte
		toolErr         string
		errKind         string
		errMessage      string
		timestampMicros uint64
	)

	for off := 0; off < len(data); {
		tag, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return nil, ErrTruncated
		}
		off += n
		field := int(tag >> 3)
		wt := int(tag & 7)

		switch wt {
		case wtVarint:
			v, n := binary.Uvarint(data[off:])
			if n <= 0 {
				return nil, ErrTruncated
			}
			off += n
			switch field {
			case fieldKind:
				kind = v
			case fieldSampleRate:
				sampleRate = v
			case fieldChannels:
				channels = v
			case fieldFinal:
				final = v != 0
			case fieldTimestampUS:
				timestampMicros = v
			}
		case wtLen:
			length, n := binary.Uvarint(data[off:])
			if n <= 0 {
				return nil, ErrTruncated
			}
			off += n
			if uint64(len(data)-off) < length {
				return nil, ErrTruncated
			}
			payload := data[off : off+int(length)]
			off += int(length)
			switch field {
			case fieldAudio:
				audio = payload
			case fieldText:
				text = string(payload)
			case fieldToolID:
				toolID = string(payload)
			case fieldToolName:
				toolName = string(payload)
			case fieldToolArgs:
				toolArgs = payload
			case fieldToolResult:
				toolResult = payload
			case fieldToolError:
				toolErr = string(payload)
			case fieldErrorKind:
				errKind = string(payload)
			case fieldErrorMessage:
				errMessage = string(payload)
			}
		default:
			return nil, fmt.Errorf("unsupported wire type %d for field %d", wt, field)
		}
	}

	switch kind {
	case wireKindAudio:
		chunk := types.AudioChunk{
			Data:       append([]byte(nil), audio...),
			SampleRate: int(sampleRate),
			Channels:   int(channels),
		}
		if timestampMicros != 0 {
			chunk.Timestamp = time.UnixMicro(int64(timestampMicros)) //nolint:gosec // wall-clock micros fit int64
		}
		return chunk, nil
	case wireKindTurnStart:
		return types.TurnStart{}, nil
	case wireKindTurnEnd:
		return types.TurnEnd{}, nil
	case wireKindText:
		return types.TextDelta{Text: text, Final: final}, nil
	case wireKindToolCall:
		return types.ToolCallRequest{
			ID:   toolID,
			Name: toolName,
			Args: append([]byte(nil), toolArgs...),
		}, nil
	case wireKindToolResult:
		return types.ToolCallResult{
			ID:     toolID,
			Name:   toolName,
			Result: append([]byte(nil), toolResult...),
			Err:    toolErr,
		}, nil
	case wireKindError:
		return types.ControlError{
			ErrKind: types.ErrorKind(errKind),
			Message: errMessage,
		}, nil
	default:
		return nil, fmt.Errorf("unknown frame kind %d", kind)
	}
}

func appendVarintField(b []byte, field int, v uint64) []byte {
	b = binary.AppendUvarint(b, uint64(field)<<3|wtVarint)
	return binary.AppendUvarint(b, v)
}

func appendBytesField(b []byte, field int, payload []byte) []byte {
	b = binary.AppendUvarint(b, uint64(field)<<3|wtLen)
	b = binary.AppendUvarint(b, uint64(len(payload)))
	return append(b, payload...)
}
