package speedtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"netmon/internal/models"
)

// ErrUnavailable means no throughput tool could be found. It is not a
// measurement failure: callers skip the cycle and record nothing.
var ErrUnavailable = errors.New("no speedtest CLI found (install Ookla speedtest or speedtest-cli)")

// Tool names as recorded on results.
const (
	ToolOokla  = "speedtest"
	ToolPython = "speedtest-cli"
)

// Failure classes. Every failed ThroughputResult error starts with one of these.
const (
	ClassTimeout  = "timeout"
	ClassExit     = "exit status"
	ClassParse    = "parse error"
	ClassBinding  = "binding failed"
	ClassInternal = "internal error"
)

const (
	versionTimeout = 5 * time.Second
	listTimeout    = 15 * time.Second
	rawErrorLimit  = 4000
)

type variant int

const (
	variantUnknown variant = iota
	variantOokla
	variantPython
)

var preferredPaths = []string{
	"/usr/bin/speedtest",
	"/usr/local/bin/speedtest",
	"/opt/homebrew/bin/speedtest",
}

type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Options configure a Tester
type Options struct {
	Timeout   time.Duration
	ServerID  string
	Dataset   string
	Interface string
}

// Command is a resolved tool invocation
type Command struct {
	Tool string
	Path string
	Args []string
}

// String renders the command line for logging.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Tester runs one throughput measurement per call using the Ookla speedtest
// binary, falling back to the Python speedtest-cli.
type Tester struct {
	opts   Options
	logger *slog.Logger

	preferred []string
	lookPath  func(string) (string, error)
	homeDir   func() (string, error)
	sourceIP  func(iface string) (string, error)
	run       runFunc
	now       func() time.Time

	mu           sync.Mutex
	autoServer   string
	autoResolved bool
}

// New creates a Tester. A nil logger discards output.
func New(opts Options, logger *slog.Logger) *Tester {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tester{
		opts:      opts,
		logger:    logger,
		preferred: preferredPaths,
		lookPath:  exec.LookPath,
		homeDir:   os.UserHomeDir,
		sourceIP:  interfaceIP,
		run:       runCommand,
		now:       time.Now,
	}
}

// Run performs one measurement. It returns ErrUnavailable when no tool is
// installed; every other outcome, including timeouts and unparsable output,
// is a ThroughputResult with a nil error.
func (t *Tester) Run(ctx context.Context) (result models.ThroughputResult, err error) {
	started := t.now()
	result = models.ThroughputResult{
		Timestamp: started.UTC(),
		Dataset:   t.opts.Dataset,
		Interface: t.opts.Interface,
	}
	defer func() {
		if r := recover(); r != nil {
			result = t.failure(result, fmt.Sprintf("%s: %v", ClassInternal, r))
			err = nil
		}
	}()

	cmd, err := t.Command(ctx)
	if errors.Is(err, ErrUnavailable) {
		return models.ThroughputResult{}, err
	}
	result.Tool = cmd.Tool
	if err != nil {
		return t.failure(result, err.Error()), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	t.logger.Debug("running speedtest", "command", cmd.String())
	stdout, stderr, runErr := t.run(runCtx, cmd.Path, cmd.Args...)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return t.failure(result, fmt.Sprintf("%s: speedtest timed out after %s", ClassTimeout, t.opts.Timeout)), nil
	case errors.Is(runCtx.Err(), context.Canceled):
		return t.failure(result, ClassTimeout+": speedtest cancelled"), nil
	}
	if runErr != nil {
		detail := strings.TrimSpace(string(stdout) + string(stderr))
		if detail == "" {
			detail = runErr.Error()
		}
		return t.failure(result, fmt.Sprintf("%s: %s", ClassExit, truncate(detail))), nil
	}

	m, parseErr := Parse(cmd.Tool, stdout)
	if parseErr != nil {
		raw := strings.Join(strings.Fields(string(stdout)), " ")
		if raw == "" {
			raw = "empty"
		}
		return t.failure(result, fmt.Sprintf("%s: %v; raw: %s", ClassParse, parseErr, truncate(raw))), nil
	}

	result.Success = true
	result.DownloadMbps = &m.DownloadMbps
	result.UploadMbps = &m.UploadMbps
	result.PingMs = &m.PingMs
	return result, nil
}

func (t *Tester) failure(result models.ThroughputResult, msg string) models.ThroughputResult {
	result.Success = false
	result.DownloadMbps = nil
	result.UploadMbps = nil
	result.PingMs = nil
	result.Error = msg
	return result
}

// Command discovers the tool and builds its invocation. It returns
// ErrUnavailable when neither tool is installed.
func (t *Tester) Command(ctx context.Context) (Command, error) {
	primary := t.findSpeedtest()
	v := variantUnknown
	if primary != "" {
		v = t.detectVariant(ctx, primary)
	}
	fallback := t.which(ToolPython)

	var cmd Command
	switch {
	case v == variantOokla:
		cmd = Command{Tool: ToolOokla, Path: primary, Args: []string{"--accept-license", "--accept-gdpr", "-f", "json"}}
	case v == variantPython:
		cmd = Command{Tool: ToolPython, Path: primary, Args: []string{"--json", "--secure"}}
	case fallback != "":
		cmd = Command{Tool: ToolPython, Path: fallback, Args: []string{"--json", "--secure"}}
	default:
		return Command{}, ErrUnavailable
	}

	server := t.opts.ServerID
	if server == "" && cmd.Tool == ToolPython {
		server = t.resolveServer(ctx, cmd.Path)
	}

	if cmd.Tool == ToolOokla {
		if server != "" {
			cmd.Args = append(cmd.Args, "--server-id", server)
		}
		if t.opts.Interface != "" {
			cmd.Args = append(cmd.Args, "--interface", t.opts.Interface)
		}
		return cmd, nil
	}

	if server != "" {
		cmd.Args = append(cmd.Args, "--server", server)
	}
	if t.opts.Interface != "" {
		ip, err := t.sourceIP(t.opts.Interface)
		if err != nil {
			return cmd, fmt.Errorf("%s: %s: %w", ClassBinding, t.opts.Interface, err)
		}
		cmd.Args = append(cmd.Args, "--source", ip)
	}
	return cmd, nil
}

// findSpeedtest prefers the well-known install locations of the Ookla
// binary before searching PATH.
func (t *Tester) findSpeedtest() string {
	for _, candidate := range t.preferred {
		if isExecutable(candidate) {
			return candidate
		}
	}
	return t.which(ToolOokla)
}

// which searches PATH, then ~/.local/bin.
func (t *Tester) which(name string) string {
	if path, err := t.lookPath(name); err == nil {
		return path
	}
	home, err := t.homeDir()
	if err != nil || home == "" {
		return ""
	}
	candidate := filepath.Join(home, ".local", "bin", name)
	if isExecutable(candidate) {
		return candidate
	}
	return ""
}

func (t *Tester) detectVariant(ctx context.Context, path string) variant {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	stdout, stderr, _ := t.run(ctx, path, "--version")
	text := strings.ToLower(string(stdout) + string(stderr))
	switch {
	case strings.Contains(text, "ookla"):
		return variantOokla
	case strings.Contains(text, "speedtest-cli"):
		return variantPython
	default:
		return variantUnknown
	}
}

// resolveServer picks the nearest server from speedtest-cli --list. The
// answer, including a failed lookup, is cached for the life of the Tester.
func (t *Tester) resolveServer(ctx context.Context, path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoResolved {
		return t.autoServer
	}
	t.autoResolved = true

	timeout := listTimeout
	if t.opts.Timeout > 0 && t.opts.Timeout < timeout {
		timeout = t.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, _, err := t.run(ctx, path, "--secure", "--list")
	if err != nil {
		t.logger.Debug("speedtest server list failed", "error", err)
		return ""
	}
	t.autoServer = firstServerID(string(stdout))
	if t.autoServer != "" {
		t.logger.Info("auto-selected speedtest server", "server_id", t.autoServer)
	}
	return t.autoServer
}

// firstServerID extracts the id from the first line shaped like
// "12345) Some ISP (City, CC) [1.23 km]".
func firstServerID(list string) string {
	for _, line := range strings.Split(list, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		id, _, _ := strings.Cut(line, ")")
		if fields := strings.Fields(id); len(fields) > 0 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				return fields[0]
			}
		}
	}
	return ""
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

func truncate(s string) string {
	if len(s) > rawErrorLimit {
		return s[:rawErrorLimit]
	}
	return s
}
