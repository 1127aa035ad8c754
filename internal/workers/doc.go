/*
Package workers sizes the extraction pool in containerized environments.

runtime.NumCPU reports the host's CPUs even when a cgroup limits the
container to a fraction of them. GOMAXPROCS follows the cgroup limit, so the
helpers here scale from GOMAXPROCS instead:

	// I/O-bound extractors: 2 workers per CPU, at most 16
	max := workers.ForIO(16)

	// CPU-bound extractors: 1 worker per CPU, at most 8
	max := workers.ForCPU(8)

The result is the throttle's MaxConcurrency: the admission limit at
throttle 0. Higher throttle values interpolate down towards 1.

# Environment Variable Override

MINER_WORKERS pins the count (still capped by the limit argument):

	MINER_WORKERS=4 fsminer serve

Invalid or non-positive values are ignored and the GOMAXPROCS based
calculation is used.
*/
package workers
