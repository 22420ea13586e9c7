// Package prof captures pprof profiles around a simulation run.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/mcdc
//	mcdc simulate --cpuprofile cpu.prof --mutexprofile mutex.prof
//
// The mutex profile shows contention on the per-port locks taken by the
// frame tick, the completion callbacks and the firmware reader and writer.
// Without the tag, [Start] fails with [ErrUnavailable] whenever a profile is
// requested and is otherwise a no-op, so callers need no build conditions of
// their own.
package prof
