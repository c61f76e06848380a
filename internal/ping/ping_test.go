package ping

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"netmon/internal/models"
)

type fakeBinder struct {
	supported bool
	checkErr  error
}

func (b fakeBinder) Supported() bool    { return b.supported }
func (b fakeBinder) Check(string) error { return b.checkErr }

func (b fakeBinder) Control(string) func(string, string, syscall.RawConn) error { return nil }

func newTestPinger(binder Binder, run runFunc) *Pinger {
	p := New(binder)
	p.goos = "linux"
	p.lookPath = func(string) (string, error) { return "/bin/ping", nil }
	p.run = run
	return p
}

func TestParsePingOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected float64
		ok       bool
	}{
		{
			name:     "macOS individual response",
			output:   "64 bytes from 8.8.8.8: icmp_seq=0 ttl=118 time=44.347 ms",
			expected: 44.347,
			ok:       true,
		},
		{
			name:     "macOS summary line",
			output:   "round-trip min/avg/max/stddev = 44.347/44.347/44.347/0.000 ms",
			expected: 44.347,
			ok:       true,
		},
		{
			name:     "Linux summary line",
			output:   "rtt min/avg/max/mdev = 12.300/12.300/12.300/0.000 ms",
			expected: 12.3,
			ok:       true,
		},
		{
			name:     "BusyBox summary line",
			output:   "round-trip min/avg/max = 12.3/12.3/12.3 ms",
			expected: 12.3,
			ok:       true,
		},
		{
			name:     "Windows response",
			output:   "Reply from 8.8.8.8: bytes=32 time=15ms TTL=118",
			expected: 15,
			ok:       true,
		},
		{
			name:     "Windows sub-millisecond",
			output:   "Reply from 8.8.8.8: bytes=32 time<1ms TTL=118",
			expected: 1,
			ok:       true,
		},
		{
			name:   "No match",
			output: "ping: unknown host example.invalid",
		},
		{
			name:   "Empty output",
			output: "",
		},
		{
			name: "Multiple lines with Linux output",
			output: `PING 8.8.8.8 (8.8.8.8) from 192.168.1.20 eth0: 56(84) bytes of data.
64 bytes from 8.8.8.8: icmp_seq=1 ttl=118 time=9.81 ms

--- 8.8.8.8 ping statistics ---
1 packets transmitted, 1 received, 0% packet loss, time 0ms
rtt min/avg/max/mdev = 9.810/9.810/9.810/0.000 ms`,
			expected: 9.81,
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := parsePingOutput(tt.output)
			if result != tt.expected || ok != tt.ok {
				t.Errorf("parsePingOutput(%q) = %v, %v, want %v, %v", tt.output, result, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestPingerArgs(t *testing.T) {
	target := models.Target{Name: "google", Host: "8.8.8.8", Interface: "eth0"}

	tests := []struct {
		name   string
		goos   string
		binder Binder
		want   []string
	}{
		{"linux bound", "linux", fakeBinder{supported: true}, []string{"-c", "1", "-W", "3", "-I", "eth0", "8.8.8.8"}},
		{"linux unsupported binding keeps default route", "linux", fakeBinder{}, []string{"-c", "1", "-W", "3", "8.8.8.8"}},
		{"darwin waits in milliseconds", "darwin", fakeBinder{}, []string{"-c", "1", "-W", "3000", "8.8.8.8"}},
		{"freebsd waits in milliseconds", "freebsd", fakeBinder{}, []string{"-c", "1", "-W", "3000", "8.8.8.8"}},
		{"openbsd maxwait in seconds", "openbsd", fakeBinder{}, []string{"-c", "1", "-w", "3", "8.8.8.8"}},
		{"windows", "windows", fakeBinder{supported: true}, []string{"-n", "1", "-w", "3000", "8.8.8.8"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.binder)
			p.goos = tt.goos
			if got := p.args(target, 3*time.Second); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("args = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPingerProbeOutcomes(t *testing.T) {
	target := models.Target{Name: "google", Host: "8.8.8.8", Interface: "eth0", Dataset: "cable-a"}
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name      string
		binder    Binder
		output    string
		err       error
		success   bool
		errPrefix string
	}{
		{
			name:    "reply",
			binder:  fakeBinder{supported: true},
			output:  "64 bytes from 8.8.8.8: icmp_seq=1 ttl=118 time=9.81 ms",
			success: true,
		},
		{
			name:      "no reply",
			binder:    fakeBinder{supported: true},
			output:    "1 packets transmitted, 0 received, 100% packet loss, time 0ms",
			err:       exitErr,
			errPrefix: ClassTimeout,
		},
		{
			name:      "unreachable",
			binder:    fakeBinder{supported: true},
			output:    "From 192.168.1.1 icmp_seq=1 Destination Host Unreachable",
			err:       exitErr,
			errPrefix: ClassUnreachable,
		},
		{
			name:      "unknown host",
			binder:    fakeBinder{supported: true},
			output:    "ping: nowhere.invalid: Name or service not known",
			err:       errors.New("exit status 2"),
			errPrefix: ClassResolve,
		},
		{
			name:      "interface down",
			binder:    fakeBinder{supported: true, checkErr: errors.New("interface eth0 is down")},
			output:    "1 packets transmitted, 0 received, 100% packet loss",
			err:       exitErr,
			errPrefix: ClassBinding,
		},
		{
			name:      "bind rejected by ping",
			binder:    fakeBinder{supported: true},
			output:    "ping: SO_BINDTODEVICE eth9: No such device",
			err:       errors.New("exit status 2"),
			errPrefix: ClassBinding,
		},
		{
			name:      "unsupported binding does not blame the interface",
			binder:    fakeBinder{supported: false, checkErr: errBindingUnsupported},
			output:    "Request timed out.",
			err:       exitErr,
			errPrefix: ClassTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPinger(tt.binder, func(context.Context, string, ...string) ([]byte, error) {
				return []byte(tt.output), tt.err
			})
			result := p.Probe(context.Background(), target, 3*time.Second)

			if result.Success != tt.success {
				t.Fatalf("success = %v, want %v (error %q)", result.Success, tt.success, result.Error)
			}
			if result.Interface != "eth0" || result.Dataset != "cable-a" || result.Target != "google" {
				t.Errorf("result lost target labels: %+v", result)
			}
			if tt.success {
				if result.LatencyMs == nil || *result.LatencyMs != 9.81 || result.Error != "" {
					t.Errorf("unexpected success result: %+v", result)
				}
				return
			}
			if result.LatencyMs != nil {
				t.Errorf("failure must not carry latency, got %v", *result.LatencyMs)
			}
			if !strings.HasPrefix(result.Error, tt.errPrefix) {
				t.Errorf("error = %q, want prefix %q", result.Error, tt.errPrefix)
			}
		})
	}
}

func TestPingerProbeTimeout(t *testing.T) {
	p := newTestPinger(fakeBinder{}, func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	result := p.Probe(context.Background(), models.Target{Name: "slow", Host: "10.255.255.1"}, 10*time.Millisecond)
	if time.Since(start) > 5*time.Second {
		t.Fatalf("probe was not bounded by its timeout")
	}
	if result.Success || result.Error != ClassTimeout+": ping timed out" {
		t.Errorf("expected timeout failure, got %+v", result)
	}
}

func TestPingerProbeToolNotFound(t *testing.T) {
	p := New(fakeBinder{})
	p.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	result := p.Probe(context.Background(), models.Target{Name: "google", Host: "8.8.8.8"}, time.Second)
	if result.Success || !strings.HasPrefix(result.Error, ClassNotFound) {
		t.Errorf("expected tool not found, got %+v", result)
	}
}

func TestPingerProbeRecoversPanic(t *testing.T) {
	p := newTestPinger(fakeBinder{}, func(context.Context, string, ...string) ([]byte, error) {
		panic("boom")
	})

	result := p.Probe(context.Background(), models.Target{Name: "google", Host: "8.8.8.8"}, time.Second)
	if result.Success || !strings.HasPrefix(result.Error, ClassInternal) {
		t.Errorf("expected internal error failure, got %+v", result)
	}
}

func TestPingerProbeFallsBackToWallTime(t *testing.T) {
	p := newTestPinger(fakeBinder{}, func(context.Context, string, ...string) ([]byte, error) {
		return []byte("1 packets transmitted, 1 received"), nil
	})

	result := p.Probe(context.Background(), models.Target{Name: "google", Host: "8.8.8.8"}, time.Second)
	if !result.Success || result.LatencyMs == nil || *result.LatencyMs < 0 {
		t.Errorf("expected success with non-negative latency, got %+v", result)
	}
}

func TestPingerPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ping integration test in short mode")
	}

	if _, err := exec.LookPath("ping"); err != nil {
		t.Skip("ping binary not available on PATH")
	}

	pinger := New(ResolveBinding())
	target := models.Target{Name: "loopback", Host: "127.0.0.1"}

	result := pinger.Probe(context.Background(), target, 5*time.Second)
	t.Logf("Ping result: Success=%v, Latency=%v, Error=%s", result.Success, result.LatencyMs, result.Error)
	if !result.Success {
		t.Skipf("loopback ping failed in this environment: %s", result.Error)
	}
	if result.LatencyMs == nil || *result.LatencyMs < 0 {
		t.Errorf("expected non-negative latency, got %v", result.LatencyMs)
	}
	if result.Target != "loopback" {
		t.Errorf("Expected target to be 'loopback', got %v", result.Target)
	}
}
