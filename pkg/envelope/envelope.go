// Package envelope defines AetherBus's single on-bus payload type.
//
// An Envelope is a structured record carried on every stream. It is built by
// a producer, copied by value onto a stream, and discarded by a consumer
// after acknowledgement or dead-lettering. The wire format is JSON with
// unknown fields tolerated on decode.
//
// Usage:
//
//	env := envelope.New("user", envelope.WithContent(map[string]any{"text": "hello"}))
//	data, err := env.ToBytes()
//	decoded, err := envelope.FromBytes(data)
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	aetherrors "github.com/aetherbus/aetherbus/pkg/errors"
	"github.com/google/uuid"
)

// MaxSize is the serialized size limit enforced by the Publisher before a
// message is sent to the broker.
const MaxSize = 131072

// Error codes specific to the envelope wire format.
const (
	CodePayloadTooLarge = "ENVELOPE_PAYLOAD_TOO_LARGE"
	CodeDecodeError     = "ENVELOPE_DECODE_ERROR"
)

// ErrPayloadTooLarge wraps a size-limit violation.
func ErrPayloadTooLarge(size, limit int) *aetherrors.AppError {
	return aetherrors.New(CodePayloadTooLarge, fmt.Sprintf("envelope serializes to %d bytes, exceeds %d byte limit", size, limit), nil)
}

// ErrDecode wraps a malformed-envelope error.
func ErrDecode(err error) *aetherrors.AppError {
	return aetherrors.New(CodeDecodeError, "failed to decode envelope", err)
}

// Envelope is the bus's unit of exchange.
type Envelope struct {
	EnvelopeID    string         `json:"envelope_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Role          string         `json:"role"`
	EnvelopeType  string         `json:"envelope_type,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	AgentName     string         `json:"agent_name,omitempty"`
	SessionCode   string         `json:"session_code,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	Target        string         `json:"target,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	Content       map[string]any `json:"content"`
	Trace         []string       `json:"trace"`
	Headers       map[string]any `json:"headers"`
	Meta          map[string]any `json:"meta"`
	Usage         map[string]any `json:"usage,omitempty"`
	BillingHint   string         `json:"billing_hint,omitempty"`
	ToolsUsed     []string       `json:"tools_used,omitempty"`
	AuthSignature string         `json:"auth_signature,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

// Option mutates an Envelope at construction time.
type Option func(*Envelope)

// WithContent sets the opaque payload.
func WithContent(content map[string]any) Option {
	return func(e *Envelope) { e.Content = content }
}

// WithEnvelopeType overrides the default "message" type tag.
func WithEnvelopeType(t string) Option {
	return func(e *Envelope) { e.EnvelopeType = t }
}

// WithCorrelationID sets the correlation id (responders copy this onto replies).
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithUserID sets the originating user identity.
func WithUserID(id string) Option {
	return func(e *Envelope) { e.UserID = id }
}

// WithAgentName sets the originating or addressed agent name.
func WithAgentName(name string) Option {
	return func(e *Envelope) { e.AgentName = name }
}

// WithSessionCode sets the session identity this envelope belongs to.
func WithSessionCode(code string) Option {
	return func(e *Envelope) { e.SessionCode = code }
}

// WithTaskID sets the task identity this envelope belongs to.
func WithTaskID(id string) Option {
	return func(e *Envelope) { e.TaskID = id }
}

// WithTarget sets the routing target.
func WithTarget(target string) Option {
	return func(e *Envelope) { e.Target = target }
}

// WithReplyTo sets the stream a responder should publish its reply to.
func WithReplyTo(stream string) Option {
	return func(e *Envelope) { e.ReplyTo = stream }
}

// WithMeta sets application metadata carried end-to-end.
func WithMeta(meta map[string]any) Option {
	return func(e *Envelope) { e.Meta = meta }
}

// WithHeaders sets transport-level hints.
func WithHeaders(headers map[string]any) Option {
	return func(e *Envelope) { e.Headers = headers }
}

// New creates an Envelope, filling envelope_id, timestamp, and empty
// collection fields.
func New(role string, opts ...Option) *Envelope {
	e := &Envelope{
		EnvelopeID:   uuid.New().String(),
		Role:         role,
		EnvelopeType: "message",
		Content:      map[string]any{},
		Trace:        []string{},
		Headers:      map[string]any{},
		Meta:         map[string]any{},
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddHop appends "<label>:<unix-epoch-seconds>" to Trace. This is the only
// in-flight mutation the wire contract permits.
func (e *Envelope) AddHop(label string) {
	e.Trace = append(e.Trace, fmt.Sprintf("%s:%d", label, time.Now().Unix()))
}

// ToBytes serializes the envelope to JSON.
func (e *Envelope) ToBytes() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, ErrDecode(err)
	}
	return data, nil
}

// Size reports the serialized size of the envelope, for pre-publish gating.
func (e *Envelope) Size() (int, error) {
	data, err := e.ToBytes()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// FromBytes decodes UTF-8 JSON into an Envelope, stripping any NUL bytes
// (legacy streams occasionally contain them) and discarding unknown fields.
func FromBytes(data []byte) (*Envelope, error) {
	clean := bytes.ReplaceAll(data, []byte{0}, nil)
	var e Envelope
	if err := json.Unmarshal(clean, &e); err != nil {
		return nil, ErrDecode(err)
	}
	if e.Content == nil {
		e.Content = map[string]any{}
	}
	if e.Trace == nil {
		e.Trace = []string{}
	}
	if e.Headers == nil {
		e.Headers = map[string]any{}
	}
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	return &e, nil
}
