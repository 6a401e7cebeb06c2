// Package models holds the exported form of reconstructed events.
package models

import (
	"fmt"
	"sort"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/reco"
	"firestige.xyz/lappd/internal/wire"
)

// NotData marks capacitors that hold no sample.
const NotData = core.NotData

// ChannelRecord is the waveform of one channel.
type ChannelRecord struct {
	Channel    uint8   `json:"channel"`
	Offset     uint16  `json:"offset"`
	Amplitudes []int64 `json:"amplitudes"`
	// Times and TimedAmplitudes are set when a timing calibration ran.
	Times           []float64 `json:"times,omitempty"`
	TimedAmplitudes []int64   `json:"timed_amplitudes,omitempty"`
	// Calibrated is set when a gain calibration ran. It is indexed like
	// Amplitudes.
	Calibrated Volts `json:"calibrated,omitempty"`
}

// EventRecord is a reconstructed event as handed to reporters.
type EventRecord struct {
	Board       string          `json:"board"`
	Source      string          `json:"source"`
	EvtNumber   uint16          `json:"evt_number"`
	Resolution  uint8           `json:"resolution"`
	Timestamp   uint64          `json:"timestamp"`
	TimeOrdered bool            `json:"time_ordered"`
	CreatedNs   int64           `json:"created_ns"`
	NotData     int64           `json:"not_data"`
	Channels    []ChannelRecord `json:"channels"`
}

// FromEvent converts ev. Channels are sorted by number; slices are shared
// with ev.
func FromEvent(ev *reco.Event) *EventRecord {
	rec := &EventRecord{
		Board:       wire.BoardMAC(ev.BoardID),
		Source:      ev.Tag.Addr.String(),
		EvtNumber:   ev.EvtNumber,
		Resolution:  ev.Resolution,
		Timestamp:   ev.Timestamp(),
		TimeOrdered: ev.TimeOrdered,
		CreatedNs:   ev.Created.UnixNano(),
		NotData:     NotData,
		Channels:    make([]ChannelRecord, 0, len(ev.Channels)),
	}
	for ch, amps := range ev.Channels {
		cr := ChannelRecord{Channel: ch, Offset: ev.Offsets[ch], Amplitudes: amps}
		if volts, ok := ev.Calibrated[ch]; ok {
			cr.Calibrated = volts
		}
		if timed, ok := ev.Timed[ch]; ok {
			cr.Times = make([]float64, len(timed))
			cr.TimedAmplitudes = make([]int64, len(timed))
			for i, s := range timed {
				cr.Times[i], cr.TimedAmplitudes[i] = s.T, s.A
			}
		}
		rec.Channels = append(rec.Channels, cr)
	}
	sort.Slice(rec.Channels, func(i, j int) bool { return rec.Channels[i].Channel < rec.Channels[j].Channel })
	return rec
}

// Key identifies the event across reporters: board and event number.
func (r *EventRecord) Key() []byte {
	return []byte(fmt.Sprintf("%s:%d", r.Board, r.EvtNumber))
}
