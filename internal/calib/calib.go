// Package calib applies precomputed pedestal, gain and timing calibrations
// to reconstructed events. Producing the calibrations is done offline.
package calib

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/reco"
)

// PedestalTable holds the per-capacitor baseline of each channel. A NaN
// mean marks a capacitor that was never sampled while the pedestal was taken.
type PedestalTable struct {
	Board string              `yaml:"board"`
	Mean  map[uint8][]float64 `yaml:"mean"`
}

// Subtract removes the baseline from capacitor-ordered amplitudes. Channels
// without a baseline are returned unchanged.
func (p *PedestalTable) Subtract(amps []int64, channel uint8) []int64 {
	mean, ok := p.Mean[channel]
	if !ok {
		return amps
	}
	out := make([]int64, len(amps))
	for i, v := range amps {
		if core.IsNotData(v) || i >= len(mean) || math.IsNaN(mean[i]) {
			out[i] = core.NotData
			continue
		}
		out[i] = v - int64(math.Round(mean[i]))
	}
	return out
}

// GainTable holds the per-capacitor conversion factor of each channel, in
// volts per count (typically around 5e-4).
type GainTable struct {
	Board  string              `yaml:"board"`
	Factor map[uint8][]float64 `yaml:"factor"`
}

// Scale converts pedestal-subtracted counts to volts. NotData slots and
// capacitors without a factor become NaN. Channels without factors yield nil.
func (g *GainTable) Scale(amps []int64, channel uint8) []float64 {
	factor, ok := g.Factor[channel]
	if !ok {
		return nil
	}
	out := make([]float64, len(amps))
	for i, v := range amps {
		if core.IsNotData(v) || i >= len(factor) {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(v) * factor[i]
	}
	return out
}

// TimingTable maps capacitor positions to time. Delta[c][i] is the time in
// nanoseconds between capacitor i and i+1 of calibration channel c.
type TimingTable struct {
	Board string `yaml:"board"`
	// Reference maps a readout channel to the calibration channel sharing
	// its chip. Channels absent from the map use their own deltas.
	Reference map[uint8]uint8     `yaml:"reference"`
	Delta     map[uint8][]float64 `yaml:"delta"`
	// ChipOffset is added to every time of the calibration channel.
	ChipOffset map[uint8]float64 `yaml:"chip_offset"`
}

// Apply fills ev.Timed with (time, amplitude) pairs. Time zero is the stop
// sample; NotData slots are skipped.
func (tt *TimingTable) Apply(ev *reco.Event) {
	for ch, amps := range ev.Channels {
		ref, ok := tt.Reference[ch]
		if !ok {
			ref = ch
		}
		delta, ok := tt.Delta[ref]
		n := len(amps)
		if !ok || len(delta) < n {
			continue
		}
		stop := int(ev.Offsets[ch])
		t := tt.ChipOffset[ref]
		timed := make([]reco.TimedSample, 0, n)
		for i := 0; i < n; i++ {
			capIdx := (stop + i) % n
			a := amps[capIdx]
			if ev.TimeOrdered {
				a = amps[i]
			}
			if !core.IsNotData(a) {
				timed = append(timed, reco.TimedSample{T: t, A: a})
			}
			t += delta[capIdx]
		}
		if ev.Timed == nil {
			ev.Timed = make(map[uint8][]reco.TimedSample, len(ev.Channels))
		}
		ev.Timed[ch] = timed
	}
}

// LoadPedestal reads a pedestal table from a YAML file.
func LoadPedestal(path string) (*PedestalTable, error) {
	var p PedestalTable
	if err := loadYAML(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadGain reads a gain table from a YAML file.
func LoadGain(path string) (*GainTable, error) {
	var g GainTable
	if err := loadYAML(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadTiming reads a timing table from a YAML file.
func LoadTiming(path string) (*TimingTable, error) {
	var tt TimingTable
	if err := loadYAML(path, &tt); err != nil {
		return nil, err
	}
	return &tt, nil
}

// Save writes any calibration table as YAML.
func Save(path string, table any) error {
	raw, err := yaml.Marshal(table)
	if err != nil {
		return fmt.Errorf("calib: could not encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("calib: could not write %s: %w", path, err)
	}
	return nil
}

func loadYAML(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("calib: could not read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("calib: could not decode %s: %w", path, err)
	}
	return nil
}

var (
	_ reco.Pedestal = (*PedestalTable)(nil)
	_ reco.Gain     = (*GainTable)(nil)
)
