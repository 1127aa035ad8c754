// Package throttle converts a single scalar in [0,1] into the miner's
// admission limit and inter-dispatch delay.
//
// 0 means full speed: MaxConcurrency concurrent extractions and no delay.
// 1 means gentlest: one extraction at a time and MaxDelay between
// dispatches. Values in between interpolate linearly; the admission limit
// never drops below 1.
//
// The effective value is the larger of the user-set Cell and an external
// pressure floor (memory backpressure, see internal/memory).
package throttle
