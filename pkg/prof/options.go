package prof

import "errors"

// ErrUnavailable is returned by Start when profiles are requested from a
// binary built without the "profile" tag.
var ErrUnavailable = errors.New("profiling not compiled in (build with -tags profile)")

// ErrActive is returned by Start while another session is running.
var ErrActive = errors.New("profiling session already active")

// Options selects the profiles a Session captures. Empty paths are skipped.
type Options struct {
	CPU   string // CPU profile, sampled for the whole session
	Mutex string // mutex contention profile, written on Stop
	Block string // blocking profile, written on Stop
	HTTP  string // address serving /debug/pprof/ for the session
}

// Enabled reports whether o requests anything.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Mutex != "" || o.Block != "" || o.HTTP != ""
}
