//go:build !profile

package prof

// Session is a running set of profiles.
type Session struct{}

// Start returns ErrUnavailable if o requests any profile.
func Start(o Options) (*Session, error) {
	if o.Enabled() {
		return nil, ErrUnavailable
	}
	return &Session{}, nil
}

// Stop is a no-op when built without the "profile" tag.
func (s *Session) Stop() error { return nil }

// Addr always returns "" when built without the "profile" tag.
func (s *Session) Addr() string { return "" }
