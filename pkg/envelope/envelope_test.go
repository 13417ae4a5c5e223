package envelope_test

import (
	"strings"
	"testing"

	"github.com/aetherbus/aetherbus/pkg/envelope"
	aetherrors "github.com/aetherbus/aetherbus/pkg/errors"
	"github.com/aetherbus/aetherbus/pkg/test"
)

type EnvelopeSuite struct {
	test.Suite
}

func TestEnvelopeSuite(t *testing.T) {
	test.Run(t, new(EnvelopeSuite))
}

func (s *EnvelopeSuite) TestRoundTrip() {
	e := envelope.New("user",
		envelope.WithContent(map[string]any{"text": "hello"}),
		envelope.WithUserID("Sean"),
		envelope.WithCorrelationID("cid-1"),
	)

	data, err := e.ToBytes()
	s.Require().NoError(err)

	decoded, err := envelope.FromBytes(data)
	s.Require().NoError(err)

	s.Equal(e.EnvelopeID, decoded.EnvelopeID)
	s.Equal(e.Role, decoded.Role)
	s.Equal(e.EnvelopeType, decoded.EnvelopeType)
	s.Equal(e.UserID, decoded.UserID)
	s.Equal(e.CorrelationID, decoded.CorrelationID)
	s.Equal(e.Content, decoded.Content)
	s.Equal(e.Timestamp, decoded.Timestamp)
}

func (s *EnvelopeSuite) TestRoundTripToleratesUnknownFields() {
	raw := []byte(`{"envelope_id":"e1","role":"user","content":{},"trace":[],"headers":{},"meta":{},"timestamp":"2026-01-01T00:00:00Z","some_future_field":"ignored"}`)

	decoded, err := envelope.FromBytes(raw)
	s.Require().NoError(err)
	s.Equal("e1", decoded.EnvelopeID)
	s.Equal("user", decoded.Role)
}

func (s *EnvelopeSuite) TestFromBytesStripsNULBytes() {
	raw := []byte("{\"envelope_id\":\"e1\",\x00\"role\":\"user\",\"content\":{},\"trace\":[],\"headers\":{},\"meta\":{},\"timestamp\":\"2026-01-01T00:00:00Z\"}")

	decoded, err := envelope.FromBytes(raw)
	s.Require().NoError(err)
	s.Equal("e1", decoded.EnvelopeID)
}

func (s *EnvelopeSuite) TestFromBytesMalformedJSONIsDecodeError() {
	_, err := envelope.FromBytes([]byte(`not json`))
	s.Require().Error(err)

	var appErr *aetherrors.AppError
	s.Require().ErrorAs(err, &appErr)
	s.Equal(envelope.CodeDecodeError, appErr.Code)
}

func (s *EnvelopeSuite) TestAddHopAppendsLabelledEntry() {
	e := envelope.New("agent")
	s.Empty(e.Trace)

	e.AddHop("bus_subscribe")
	s.Len(e.Trace, 1)
	s.True(strings.HasPrefix(e.Trace[0], "bus_subscribe:"))

	e.AddHop("bus_subscribe")
	s.Len(e.Trace, 2)
}

func (s *EnvelopeSuite) TestEnvelopeIDImmutableAcrossCopies() {
	e := envelope.New("agent")
	copied := *e
	copied.AddHop("x")
	s.Equal(e.EnvelopeID, copied.EnvelopeID)
}

func (s *EnvelopeSuite) TestSizeOfOversizePayloadExceedsMaxSize() {
	big := strings.Repeat("x", 200000)
	e := envelope.New("user", envelope.WithContent(map[string]any{"text": big}))

	size, err := e.Size()
	s.Require().NoError(err)
	s.Greater(size, envelope.MaxSize)
}

func (s *EnvelopeSuite) TestDefaultEnvelopeTypeIsMessage() {
	e := envelope.New("user")
	s.Equal("message", e.EnvelopeType)
}
