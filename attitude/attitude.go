// Package attitude defines the inertial-orientation record published by the
// solver and read back over the bus surface.
package attitude

// Attitude is the spacecraft's derived inertial orientation from a single
// solved frame. All four fields update atomically: a reader never observes
// a mix of fields from two different solves.
type Attitude struct {
	// RightAscension is in degrees, [0, 360).
	RightAscension float64
	// Declination is in degrees, [-90, 90].
	Declination float64
	// Roll is in degrees, (-180, 180].
	Roll float64
	// TimeSinceMidnight is the capture timestamp in seconds since
	// spacecraft midnight (SCET-style encoding).
	TimeSinceMidnight int64
}
