// Package pkg provides shared utilities for the mcdc USB function stack.
//
// This package contains common functionality used by the composite
// framework, the endpoint drivers and the class drivers:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for USB protocol and driver errors
//   - Component identifiers for log filtering
//
// # Logging
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentCDC, "serial open", "port", 0)
//
// # Errors
//
//	if errors.Is(err, pkg.ErrInvalidEndpoint) {
//	    // Event was routed to the wrong class driver
//	}
package pkg
