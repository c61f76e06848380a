package ping

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"netmon/internal/models"
)

// Failure classes. Every failed ProbeResult error starts with one of these.
const (
	ClassTimeout     = "timeout"
	ClassUnreachable = "unreachable"
	ClassBinding     = "binding failed"
	ClassNotFound    = "tool not found"
	ClassResolve     = "resolve failed"
	ClassInternal    = "internal error"
)

// killGrace is added to the probe timeout before the ping process is killed,
// giving ping a chance to report its own timeout first.
const killGrace = time.Second

var latencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`),
	regexp.MustCompile(`round-trip min/avg/max(?:/stddev)? = [0-9.]+/([0-9.]+)/`),
	regexp.MustCompile(`rtt min/avg/max/mdev = [0-9.]+/([0-9.]+)/`),
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Pinger runs the system ping binary for one echo request per probe.
type Pinger struct {
	binder   Binder
	goos     string
	lookPath func(string) (string, error)
	run      runFunc
	now      func() time.Time
}

// New creates a Pinger using the given binding strategy
func New(binder Binder) *Pinger {
	if binder == nil {
		binder = unboundBinder{}
	}
	return &Pinger{
		binder:   binder,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		run:      runCommand,
		now:      time.Now,
	}
}

// Probe executes a ping to the target and returns the result
func (p *Pinger) Probe(ctx context.Context, target models.Target, timeout time.Duration) (result models.ProbeResult) {
	started := p.now()
	defer func() {
		if r := recover(); r != nil {
			result = models.NewProbeFailure(started, target, fmt.Sprintf("%s: %v", ClassInternal, r))
		}
	}()

	path, err := p.lookPath("ping")
	if err != nil {
		return models.NewProbeFailure(started, target, ClassNotFound+": ping command not found")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout+killGrace)
	defer cancel()

	output, err := p.run(runCtx, path, p.args(target, timeout)...)
	elapsed := p.now().Sub(started)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return models.NewProbeFailure(started, target, ClassTimeout+": ping timed out")
	case errors.Is(runCtx.Err(), context.Canceled):
		return models.NewProbeFailure(started, target, ClassTimeout+": probe cancelled")
	}
	if err != nil {
		return models.NewProbeFailure(started, target, p.classify(string(output), err, target, timeout))
	}

	latency, ok := parsePingOutput(string(output))
	if !ok {
		// Reply seen but no parsable time field; the process wall time is an
		// upper bound.
		latency = float64(elapsed.Microseconds()) / 1000.0
	}
	return models.NewProbeSuccess(started, target, latency)
}

func (p *Pinger) args(target models.Target, timeout time.Duration) []string {
	if p.goos == "windows" {
		// Windows ping cannot be bound to an interface; the label is still recorded.
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), target.Host}
	}

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	var args []string
	switch p.goos {
	case "darwin", "ios", "freebsd", "dragonfly":
		// BSD-derived ping takes the reply wait in milliseconds.
		args = []string{"-c", "1", "-W", strconv.FormatInt(timeout.Milliseconds(), 10)}
	case "openbsd", "netbsd":
		args = []string{"-c", "1", "-w", strconv.Itoa(secs)}
	default:
		args = []string{"-c", "1", "-W", strconv.Itoa(secs)}
	}
	if target.Interface != "" && p.binder.Supported() {
		args = append(args, "-I", target.Interface)
	}
	return append(args, target.Host)
}

func (p *Pinger) classify(output string, err error, target models.Target, timeout time.Duration) string {
	lower := strings.ToLower(output)
	detail := firstLine(output)
	if detail == "" {
		detail = err.Error()
	}

	if target.Interface != "" && p.binder.Supported() {
		if bindErr := p.binder.Check(target.Interface); bindErr != nil {
			return ClassBinding + ": " + bindErr.Error()
		}
		if containsAny(lower, "so_bindtodevice", "unknown iface", "no such device", "bad interface") {
			return ClassBinding + ": " + detail
		}
	}

	switch {
	case containsAny(lower, "unknown host", "name or service not known", "cannot resolve",
		"could not find host", "temporary failure in name resolution", "nodename nor servname"):
		return ClassResolve + ": " + detail
	case containsAny(lower, "unreachable"):
		return ClassUnreachable + ": " + detail
	case containsAny(lower, "100% packet loss", "100.0% packet loss", "request timed out", "timed out"):
		return fmt.Sprintf("%s: no reply within %s", ClassTimeout, timeout)
	default:
		return ClassUnreachable + ": " + detail
	}
}

// parsePingOutput parses RTT from ping output
func parsePingOutput(output string) (float64, bool) {
	// Linux/Mac: "time=XX.X ms"
	// Windows: "time=XXms" or "time<1ms"
	for _, re := range latencyPatterns {
		matches := re.FindStringSubmatch(output)
		if len(matches) > 1 {
			if rtt, err := strconv.ParseFloat(matches[1], 64); err == nil {
				return rtt, true
			}
		}
	}
	return 0, false
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
