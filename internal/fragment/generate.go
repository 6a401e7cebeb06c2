package fragment

import (
	"math/rand/v2"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/sample"
	"firestige.xyz/lappd/internal/wire"
)

const (
	// TestBoard is the board id of generated events.
	TestBoard uint64 = 0x000102030405
	// TestTimestampHigh is the timestamp high word of generated events.
	TestTimestampHigh uint32 = 0xfedcba98
)

// LinearSubhits builds count straight-line subhits for a channel. Subhit m
// starts at base+m*(samples+50), wraps modulo maxSamples, and has slope m+1
// shifted by channel*100. Values are folded into the range of codec.
func LinearSubhits(codec *sample.Codec, channel uint8, count, samples int, base uint16, maxSamples int) []Subhit {
	if maxSamples <= 0 {
		maxSamples = core.MaxSamples
	}
	lo, hi := codec.Range()
	span := hi - lo + 1

	subhits := make([]Subhit, 0, count)
	for m := 0; m < count; m++ {
		offset := (int(base) + m*(samples+50)) % maxSamples
		amps := make([]int64, samples)
		for t := range amps {
			v := int64(m+1)*int64(t) + int64(channel)*100
			if span > 0 {
				v = lo + ((v-lo)%span+span)%span
			}
			amps[t] = v
		}
		subhits = append(subhits, Subhit{Offset: uint16(offset), Amplitudes: amps})
	}
	return subhits
}

// GenerateEvent builds a synthetic event with one linear hit per channel
// and returns its header and datagrams. The header carries a random
// timestamp low word so concurrent events do not collide.
func (e *Encoder) GenerateEvent(evtNumber uint16, res uint8, channels []uint8, subhits, samples int, base uint16) (*wire.EventHeader, [][]byte, error) {
	codec, err := sample.NewCodec(res)
	if err != nil {
		return nil, nil, err
	}
	hdr := &wire.EventHeader{
		BoardID:       TestBoard,
		Resolution:    res,
		EvtNumber:     evtNumber,
		TimestampHigh: TestTimestampHigh,
		TimestampLow:  rand.Uint32(),
	}
	hits := make([]Hit, 0, len(channels))
	for _, ch := range channels {
		hits = append(hits, Hit{
			Channel: ch,
			Subhits: LinearSubhits(codec, ch, subhits, samples, base, int(e.maxSamples())),
		})
	}
	raw, err := e.EncodeEvent(hdr, hits)
	if err != nil {
		return nil, nil, err
	}
	return hdr, raw, nil
}
