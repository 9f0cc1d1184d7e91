// Package protocol detects and normalizes agent payloads. Each supported
// wire protocol has an Adapter that parses the raw bytes into a typed form
// and maps that form onto the shared intent shape; the Dispatcher runs
// detection in a fixed order and assembles the final NormalizedRequest.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// Tag identifies a supported wire protocol.
type Tag string

const (
	// TagMCP is the Model Context Protocol (JSON-RPC 2.0).
	TagMCP Tag = "mcp"
	// TagA2A is the agent-to-agent envelope.
	TagA2A Tag = "a2a"
	// TagUCP is the universal context protocol (context_id + operation).
	TagUCP Tag = "ucp"
	// TagACP is the agent communication protocol (header + body).
	TagACP Tag = "acp"
	// TagV1 is the OpenAI-style chat completion shape.
	TagV1 Tag = "v1"
	// TagV2 is the Anthropic-style messages shape.
	TagV2 Tag = "v2"
)

// String returns the tag as a string.
func (t Tag) String() string {
	return string(t)
}

// Valid reports whether t names a supported protocol.
func (t Tag) Valid() bool {
	switch t {
	case TagMCP, TagA2A, TagUCP, TagACP, TagV1, TagV2:
		return true
	}
	return false
}

// DetectionOrder is the fixed order adapters are tried during detection.
// First successful parse wins. v2 probes before v1 because its required
// shape is a strict superset of v1's (max_tokens on top of model+messages).
func DetectionOrder() []Tag {
	return []Tag{TagMCP, TagA2A, TagUCP, TagACP, TagV2, TagV1}
}

// Sentinel errors for errors.Is checks across the adapter boundary.
var (
	ErrParse               = errors.New("payload parse failed")
	ErrNormalize           = errors.New("intent normalization failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// ParseError reports a payload that violates its protocol's shape.
type ParseError struct {
	// Code is a stable machine-readable identifier (MISSING_METHOD, ...).
	Code string
	// Message is the human-readable detail.
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error %s: %s", e.Code, e.Message)
}

// Unwrap returns ErrParse so errors.Is(err, ErrParse) works.
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// NormalizeError reports a parsed payload no intent can be produced from.
type NormalizeError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize error %s: %s", e.Code, e.Message)
}

// Unwrap returns ErrNormalize so errors.Is(err, ErrNormalize) works.
func (e *NormalizeError) Unwrap() error {
	return ErrNormalize
}

// UnsupportedProtocolError reports a tag the dispatcher has no adapter for.
type UnsupportedProtocolError struct {
	Protocol string
}

// Error implements the error interface.
func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol %q", e.Protocol)
}

// Unwrap returns ErrUnsupportedProtocol.
func (e *UnsupportedProtocolError) Unwrap() error {
	return ErrUnsupportedProtocol
}

// ParseOutcome carries an adapter's typed parse result. Value is private to
// the adapter that produced it; only that adapter's Normalize reads it.
type ParseOutcome struct {
	// Protocol is the tag of the adapter that parsed the payload.
	Protocol Tag
	// Value is the adapter-specific parsed form.
	Value interface{}
	// RawBytes is the payload length before parsing.
	RawBytes int
}

// NormalizeOutcome carries the normalized intent plus any context the
// payload itself supplied. Durations are filled in by the dispatcher, which
// owns the clock.
type NormalizeOutcome struct {
	// Intent is the normalized intent. Never nil on success.
	Intent *intent.NormalizedIntent
	// Context holds session and user identity extracted from the payload.
	Context intent.RequestContext
	// Metadata holds operational hints extracted from the payload.
	Metadata intent.RequestMetadata
	// ParseDuration is how long the parse step took.
	ParseDuration time.Duration
	// NormalizeDuration is how long the normalize step took.
	NormalizeDuration time.Duration
}

// Adapter parses one wire protocol and maps it to the intent shape.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	// Tag returns the protocol this adapter handles.
	Tag() Tag
	// Parse validates the payload shape and returns the typed parsed form.
	// Errors are *ParseError.
	Parse(raw []byte) (*ParseOutcome, error)
	// Normalize maps a ParseOutcome produced by this adapter onto an
	// intent. Errors are *NormalizeError.
	Normalize(po *ParseOutcome) (*NormalizeOutcome, error)
}
