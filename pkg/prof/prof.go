//go:build profile

package prof

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/mcdc/pkg"
)

var (
	activeMu sync.Mutex
	active   bool
)

// Session is a running set of profiles.
type Session struct {
	opts   Options
	cpu    *os.File
	server *http.Server
	addr   net.Addr
}

// Start begins the profiles selected by o. Only one session may run at a
// time.
func Start(o Options) (*Session, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active {
		return nil, ErrActive
	}

	s := &Session{opts: o}
	if o.CPU != "" {
		f, err := os.Create(o.CPU)
		if err != nil {
			return nil, err
		}
		if err := rpprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		s.cpu = f
	}
	if o.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if o.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if o.HTTP != "" {
		if err := s.serve(o.HTTP); err != nil {
			s.stopCPU()
			return nil, err
		}
	}

	active = true
	pkg.LogDebug(pkg.ComponentCLI, "profiling started", "cpu", o.CPU, "mutex", o.Mutex, "block", o.Block, "http", o.HTTP)
	return s, nil
}

func (s *Session) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.addr = ln.Addr()
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogWarn(pkg.ComponentCLI, "pprof server", "error", err)
		}
	}()
	pkg.LogInfo(pkg.ComponentCLI, "serving pprof", "addr", ln.Addr().String())
	return nil
}

// Addr returns the address the pprof endpoint listens on, or "" if none.
func (s *Session) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Session) stopCPU() error {
	if s.cpu == nil {
		return nil
	}
	rpprof.StopCPUProfile()
	err := s.cpu.Close()
	s.cpu = nil
	return err
}

// Stop ends the CPU profile, writes the mutex and block profiles and shuts
// the HTTP endpoint down. It is safe to call on a nil Session.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	var result *multierror.Error
	if err := s.stopCPU(); err != nil {
		result = multierror.Append(result, err)
	}
	if s.opts.Mutex != "" {
		result = multierror.Append(result, write("mutex", s.opts.Mutex))
		runtime.SetMutexProfileFraction(0)
	}
	if s.opts.Block != "" {
		result = multierror.Append(result, write("block", s.opts.Block))
		runtime.SetBlockProfileRate(0)
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		result = multierror.Append(result, s.server.Shutdown(ctx))
		cancel()
		s.server = nil
	}

	activeMu.Lock()
	active = false
	activeMu.Unlock()
	return result.ErrorOrNil()
}

func write(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rpprof.Lookup(name).WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
