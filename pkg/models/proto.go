package models

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf layout of an EventRecord:
//
//	message Event {
//	  string  board        = 1;
//	  string  source       = 2;
//	  uint32  evt_number   = 3;
//	  uint32  resolution   = 4;
//	  fixed64 timestamp    = 5;
//	  bool    time_ordered = 6;
//	  int64   created_ns   = 7;
//	  repeated Channel channels = 8;
//	  sint64  not_data     = 9;
//	}
//	message Channel {
//	  uint32 channel = 1;
//	  uint32 offset  = 2;
//	  repeated sint64 amplitudes       = 3 [packed = true];
//	  repeated double times            = 4 [packed = true];
//	  repeated sint64 timed_amplitudes = 5 [packed = true];
//	  repeated double calibrated       = 6 [packed = true];
//	}
const (
	fieldBoard       protowire.Number = 1
	fieldSource      protowire.Number = 2
	fieldEvtNumber   protowire.Number = 3
	fieldResolution  protowire.Number = 4
	fieldTimestamp   protowire.Number = 5
	fieldTimeOrdered protowire.Number = 6
	fieldCreated     protowire.Number = 7
	fieldChannels    protowire.Number = 8
	fieldNotData     protowire.Number = 9

	fieldChannel         protowire.Number = 1
	fieldOffset          protowire.Number = 2
	fieldAmplitudes      protowire.Number = 3
	fieldTimes           protowire.Number = 4
	fieldTimedAmplitudes protowire.Number = 5
	fieldCalibrated      protowire.Number = 6
)

// MarshalProto encodes rec in protobuf wire format.
func MarshalProto(rec *EventRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldBoard, protowire.BytesType)
	b = protowire.AppendString(b, rec.Board)
	b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
	b = protowire.AppendString(b, rec.Source)
	b = protowire.AppendTag(b, fieldEvtNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.EvtNumber))
	b = protowire.AppendTag(b, fieldResolution, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Resolution))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, rec.Timestamp)
	b = protowire.AppendTag(b, fieldTimeOrdered, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(rec.TimeOrdered))
	b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.CreatedNs))
	for i := range rec.Channels {
		b = protowire.AppendTag(b, fieldChannels, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalChannel(&rec.Channels[i]))
	}
	b = protowire.AppendTag(b, fieldNotData, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(rec.NotData))
	return b
}

func marshalChannel(ch *ChannelRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ch.Channel))
	b = protowire.AppendTag(b, fieldOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ch.Offset))
	b = appendPackedSint(b, fieldAmplitudes, ch.Amplitudes)
	b = appendPackedDouble(b, fieldTimes, ch.Times)
	b = appendPackedSint(b, fieldTimedAmplitudes, ch.TimedAmplitudes)
	b = appendPackedDouble(b, fieldCalibrated, ch.Calibrated)
	return b
}

func appendPackedDouble(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedSint(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// UnmarshalProto decodes a record written by MarshalProto. Unknown fields
// are skipped.
func UnmarshalProto(b []byte) (*EventRecord, error) {
	rec := &EventRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protoError(n)
		}
		b = b[n:]

		switch {
		case num == fieldBoard && typ == protowire.BytesType:
			rec.Board, n = protowire.ConsumeString(b)
		case num == fieldSource && typ == protowire.BytesType:
			rec.Source, n = protowire.ConsumeString(b)
		case num == fieldEvtNumber && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			rec.EvtNumber = uint16(v)
		case num == fieldResolution && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			rec.Resolution = uint8(v)
		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			rec.Timestamp, n = protowire.ConsumeFixed64(b)
		case num == fieldTimeOrdered && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			rec.TimeOrdered = protowire.DecodeBool(v)
		case num == fieldCreated && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			rec.CreatedNs = int64(v)
		case num == fieldNotData && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			rec.NotData = protowire.DecodeZigZag(v)
		case num == fieldChannels && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				ch, err := unmarshalChannel(raw)
				if err != nil {
					return nil, err
				}
				rec.Channels = append(rec.Channels, *ch)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protoError(n)
		}
		b = b[n:]
	}
	return rec, nil
}

func unmarshalChannel(b []byte) (*ChannelRecord, error) {
	ch := &ChannelRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protoError(n)
		}
		b = b[n:]

		switch {
		case num == fieldChannel && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			ch.Channel = uint8(v)
		case num == fieldOffset && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			ch.Offset = uint16(v)
		case (num == fieldAmplitudes || num == fieldTimedAmplitudes) && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				vs, err := consumePackedSint(raw)
				if err != nil {
					return nil, err
				}
				if num == fieldAmplitudes {
					ch.Amplitudes = vs
				} else {
					ch.TimedAmplitudes = vs
				}
			}
		case (num == fieldTimes || num == fieldCalibrated) && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				vs, err := consumePackedDouble(raw)
				if err != nil {
					return nil, err
				}
				if num == fieldTimes {
					ch.Times = vs
				} else {
					ch.Calibrated = vs
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protoError(n)
		}
		b = b[n:]
	}
	return ch, nil
}

func consumePackedSint(b []byte) ([]int64, error) {
	var vs []int64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protoError(n)
		}
		vs = append(vs, protowire.DecodeZigZag(v))
		b = b[n:]
	}
	return vs, nil
}

func consumePackedDouble(b []byte) ([]float64, error) {
	var vs []float64
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protoError(n)
		}
		vs = append(vs, math.Float64frombits(v))
		b = b[n:]
	}
	return vs, nil
}

func protoError(n int) error {
	return fmt.Errorf("models: malformed protobuf record: %w", protowire.ParseError(n))
}
