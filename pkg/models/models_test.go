package models

import (
	"encoding/json"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lappd/internal/reco"
)

func event() *reco.Event {
	return &reco.Event{
		Tag:           reco.Tag{Addr: netip.MustParseAddr("192.168.1.20"), TimestampLow: 0x11223344},
		BoardID:       0x000102030405,
		EvtNumber:     9,
		Resolution:    4,
		TimestampHigh: 0xfedcba98,
		Created:       time.Unix(10, 20),
		TimeOrdered:   true,
		Channels: map[uint8][]int64{
			5: {NotData, 3, -4},
			1: {7, 8},
		},
		Offsets: map[uint8]uint16{5: 2, 1: 0},
		Timed: map[uint8][]reco.TimedSample{
			1: {{T: 0.5, A: 7}, {T: 1.25, A: 8}},
		},
	}
}

func TestFromEvent(t *testing.T) {
	rec := FromEvent(event())

	assert.Equal(t, "00:01:02:03:04:05", rec.Board)
	assert.Equal(t, "192.168.1.20", rec.Source)
	assert.Equal(t, uint64(0xfedcba9811223344), rec.Timestamp)
	assert.Equal(t, int64(10_000_000_020), rec.CreatedNs)
	assert.Equal(t, NotData, rec.NotData)

	require.Len(t, rec.Channels, 2)
	assert.Equal(t, uint8(1), rec.Channels[0].Channel, "channels are sorted")
	assert.Equal(t, []float64{0.5, 1.25}, rec.Channels[0].Times)
	assert.Equal(t, []int64{7, 8}, rec.Channels[0].TimedAmplitudes)
	assert.Equal(t, uint16(2), rec.Channels[1].Offset)
	assert.Nil(t, rec.Channels[1].Times)

	assert.Equal(t, "00:01:02:03:04:05:9", string(rec.Key()))
}

func TestEncoders(t *testing.T) {
	rec := FromEvent(event())

	t.Run("json", func(t *testing.T) {
		enc, err := NewEncoder("json")
		require.NoError(t, err)
		b, err := enc.Encode(rec)
		require.NoError(t, err)

		var got EventRecord
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, *rec, got)
		assert.NotContains(t, string(b), "timed_amplitudes\":null")
	})

	t.Run("msgpack", func(t *testing.T) {
		enc, err := NewEncoder("msgpack")
		require.NoError(t, err)
		b, err := enc.Encode(rec)
		require.NoError(t, err)

		got, err := DecodeMsgpack(b)
		require.NoError(t, err)
		assert.Equal(t, rec.Board, got.Board)
		assert.Equal(t, rec.Timestamp, got.Timestamp)
		require.Len(t, got.Channels, 2)
		assert.Equal(t, rec.Channels[1].Amplitudes, got.Channels[1].Amplitudes)
	})

	t.Run("protobuf", func(t *testing.T) {
		enc, err := NewEncoder("protobuf")
		require.NoError(t, err)
		b, err := enc.Encode(rec)
		require.NoError(t, err)

		got, err := UnmarshalProto(b)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	_, err := NewEncoder("xml")
	assert.Error(t, err)
}

func TestCalibratedEncodings(t *testing.T) {
	ev := event()
	ev.Calibrated = map[uint8][]float64{5: {math.NaN(), 0.0015, -0.002}}
	rec := FromEvent(ev)
	require.Nil(t, rec.Channels[0].Calibrated)
	require.Len(t, rec.Channels[1].Calibrated, 3)

	check := func(t *testing.T, got Volts) {
		t.Helper()
		require.Len(t, got, 3)
		assert.True(t, math.IsNaN(got[0]), "missing sample stays marked")
		assert.Equal(t, 0.0015, got[1])
		assert.Equal(t, -0.002, got[2])
	}

	t.Run("json", func(t *testing.T) {
		b, err := jsonEncoder{}.Encode(rec)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"calibrated":[null,0.0015,-0.002]`)

		var got EventRecord
		require.NoError(t, json.Unmarshal(b, &got))
		check(t, got.Channels[1].Calibrated)
		assert.Nil(t, got.Channels[0].Calibrated)
	})

	t.Run("msgpack", func(t *testing.T) {
		b, err := (&msgpackEncoder{}).Encode(rec)
		require.NoError(t, err)
		got, err := DecodeMsgpack(b)
		require.NoError(t, err)
		check(t, got.Channels[1].Calibrated)
	})

	t.Run("protobuf", func(t *testing.T) {
		got, err := UnmarshalProto(MarshalProto(rec))
		require.NoError(t, err)
		check(t, got.Channels[1].Calibrated)
		assert.Nil(t, got.Channels[0].Calibrated)
	})
}

func TestUnmarshalProtoMalformed(t *testing.T) {
	b := MarshalProto(FromEvent(event()))
	_, err := UnmarshalProto(b[:len(b)-3])
	assert.ErrorContains(t, err, "malformed")
}

func TestUnmarshalProtoSkipsUnknown(t *testing.T) {
	// field 15, varint 1, followed by a valid record
	b := append([]byte{15 << 3, 1}, MarshalProto(&EventRecord{Board: "x", EvtNumber: 3})...)
	got, err := UnmarshalProto(b)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Board)
	assert.Equal(t, uint16(3), got.EvtNumber)
}
