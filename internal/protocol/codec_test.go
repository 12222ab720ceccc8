package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeBodySurvivesBothCodecs(t *testing.T) {
	body := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)
	in := EnvelopeMessage("peer-b", domain.Envelope{Kind: domain.EnvelopeOffer, Body: body, Renegotiate: true})
	in.From = "peer-a"

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, err := CodecByName(name)
			require.NoError(t, err)

			data, err := c.Encode(in)
			require.NoError(t, err)
			out, err := c.Decode(data)
			require.NoError(t, err)

			assert.Equal(t, TypeEnvelope, out.Type)
			assert.Equal(t, domain.EndpointID("peer-b"), out.To)
			assert.Equal(t, domain.EndpointID("peer-a"), out.From)
			assert.JSONEq(t, string(body), string(out.Body))
			assert.Equal(t, in.Envelope().Kind, out.Envelope().Kind)
			assert.True(t, out.Renegotiate)
		})
	}
}

func TestDecodeRejectsFramesWithoutType(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte(`{"roomId":"r1"}`))
	require.ErrorIs(t, err, ErrMissingType)

	_, err = JSONCodec{}.Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodeRejectsInvalidBody(t *testing.T) {
	data, err := MsgpackCodec{}.Encode(Message{Type: TypeEnvelope, Body: json.RawMessage("{broken")})
	require.NoError(t, err)

	_, err = MsgpackCodec{}.Decode(data)
	require.ErrorIs(t, err, ErrBadBody)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())
	assert.False(t, c.Binary())

	c, err = CodecByName("msgpack")
	require.NoError(t, err)
	assert.True(t, c.Binary())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}
