package core

import "math"

const (
	// MaxSamples is the capacitor count of one DRS4 channel.
	MaxSamples = 1024

	// RightMask is the number of samples starting at the stop offset that the
	// hardware corrupts while stopping.
	RightMask = 5

	// DefaultMTU is the production fragment payload limit in bytes.
	DefaultMTU = 512

	// MaxResolution is the largest representable resolution code (64-bit samples).
	MaxResolution = 6
)

// NotData marks an amplitude slot that carries no valid sample.
// It is odd and lies outside the range of every sample width up to 32 bits.
const NotData int64 = math.MinInt64 + 1

// IsNotData reports whether v is the NotData sentinel.
func IsNotData(v int64) bool { return v == NotData }
