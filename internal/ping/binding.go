package ping

import (
	"errors"
	"log/slog"
	"syscall"

	"netmon/internal/models"
)

var errBindingUnsupported = errors.New("interface binding is not supported on this platform")

// Binder is the interface-binding strategy, chosen once at startup. When
// Supported is false probes use the default route but keep the configured
// interface label on their results.
type Binder interface {
	Supported() bool
	// Check reports whether the interface currently exists and is up.
	Check(iface string) error
	// Control returns a socket control hook that binds to iface, or nil.
	Control(iface string) func(network, address string, c syscall.RawConn) error
}

// ResolveBinding returns the binding strategy for this platform.
func ResolveBinding() Binder {
	return platformBinder()
}

// CheckTargets logs the binding capability and any configured interface that
// is missing or down. It never fails: missing interfaces show up as binding
// failures on the probes themselves.
func CheckTargets(binder Binder, targets []models.Target, logger *slog.Logger) {
	bound := false
	for _, t := range targets {
		if t.Interface != "" {
			bound = true
			break
		}
	}
	if !bound {
		return
	}
	if !binder.Supported() {
		logger.Warn("interface binding unsupported, probes use the default route and keep interface labels")
		return
	}

	checked := make(map[string]struct{})
	for _, t := range targets {
		if t.Interface == "" {
			continue
		}
		if _, ok := checked[t.Interface]; ok {
			continue
		}
		checked[t.Interface] = struct{}{}
		if err := binder.Check(t.Interface); err != nil {
			logger.Warn("configured interface not usable", "interface", t.Interface, "error", err)
		}
	}
}

type unboundBinder struct{}

func (unboundBinder) Supported() bool { return false }

func (unboundBinder) Check(string) error { return errBindingUnsupported }

func (unboundBinder) Control(string) func(string, string, syscall.RawConn) error { return nil }
