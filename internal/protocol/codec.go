package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrMissingType = errors.New("message has no type")
	ErrBadBody     = errors.New("envelope body is not valid json")
)

// Codec turns messages into websocket frames and back.
type Codec interface {
	Name() string
	Binary() bool
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// CodecByName returns the codec for the ?codec= query value, json by default.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

func validate(m Message) error {
	if m.Type == "" {
		return ErrMissingType
	}
	if len(m.Body) > 0 && !json.Valid(m.Body) {
		return ErrBadBody
	}
	return nil
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode json: %w", err)
	}
	return m, validate(m)
}

// MsgpackCodec carries the envelope body as raw json bytes inside the
// msgpack frame so the relay never has to re-encode it.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	return msgpack.Marshal(&m)
}

func (MsgpackCodec) Decode(data []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode msgpack: %w", err)
	}
	return m, validate(m)
}
