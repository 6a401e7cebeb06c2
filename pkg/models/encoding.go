package models

import (
	"encoding/json"
	"fmt"

	"github.com/ugorji/go/codec"
)

// Encoder serializes event records.
type Encoder interface {
	Encode(rec *EventRecord) ([]byte, error)
	ContentType() string
}

// NewEncoder returns the encoder for format: json, msgpack or protobuf.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "json", "":
		return jsonEncoder{}, nil
	case "msgpack":
		return &msgpackEncoder{}, nil
	case "protobuf":
		return protoEncoder{}, nil
	default:
		return nil, fmt.Errorf("models: unknown encoding %q", format)
	}
}

type jsonEncoder struct{}

func (jsonEncoder) Encode(rec *EventRecord) ([]byte, error) { return json.Marshal(rec) }
func (jsonEncoder) ContentType() string                     { return "application/json" }

type msgpackEncoder struct {
	handle codec.MsgpackHandle
}

func (e *msgpackEncoder) Encode(rec *EventRecord) (b []byte, err error) {
	enc := codec.NewEncoderBytes(&b, &e.handle)
	err = enc.Encode(rec)
	return
}

func (e *msgpackEncoder) ContentType() string { return "application/msgpack" }

// DecodeMsgpack decodes a record written by the msgpack encoder.
func DecodeMsgpack(b []byte) (*EventRecord, error) {
	var (
		h   codec.MsgpackHandle
		rec EventRecord
	)
	if err := codec.NewDecoderBytes(b, &h).Decode(&rec); err != nil {
		return nil, fmt.Errorf("models: could not decode msgpack record: %w", err)
	}
	return &rec, nil
}

type protoEncoder struct{}

func (protoEncoder) Encode(rec *EventRecord) ([]byte, error) { return MarshalProto(rec), nil }
func (protoEncoder) ContentType() string                     { return "application/x-protobuf" }
