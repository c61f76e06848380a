package config

import (
	"flag"
	"fmt"
	"os"
)

// Options are the command-line settings. They select a run mode and override
// a few configuration keys.
type Options struct {
	ConfigPath      string
	Once            bool
	Interval        float64
	NoWeb           bool
	ExportPath      string
	ReportDir       string
	Hours           int
	SpeedtestCheck  bool
	SpeedtestServer string
}

// ParseFlags parses command-line flags and returns the Options
func ParseFlags() Options {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) Options {
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "config.yaml", "Path to config file (YAML or JSON)")
	fs.BoolVar(&opts.Once, "once", false, "Run one round of checks and exit")
	fs.Float64Var(&opts.Interval, "interval", 0, "Override probe interval in seconds")
	fs.BoolVar(&opts.NoWeb, "no-web", false, "Do not start the HTTP API")
	fs.StringVar(&opts.ExportPath, "export", "", "Write a dashboard snapshot to this path and exit")
	fs.StringVar(&opts.ReportDir, "report", "", "Generate a static report into this directory and exit")
	fs.IntVar(&opts.Hours, "hours", 24, "Report period in hours")
	fs.BoolVar(&opts.SpeedtestCheck, "speedtest-check", false, "Run one speed test, print the result and exit")
	fs.StringVar(&opts.SpeedtestServer, "speedtest-server", "", "Force a speed test server id")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output())
		fmt.Fprint(fs.Output(), Usage())
	}
	_ = fs.Parse(args)
	return opts
}

// Apply copies command-line overrides into cfg.
func (o Options) Apply(cfg *Config) {
	if o.Interval > 0 {
		cfg.ProbeIntervalSeconds = o.Interval
	}
	if o.NoWeb {
		cfg.WebEnabled = false
	}
	if o.SpeedtestServer != "" {
		cfg.ThroughputServerID = o.SpeedtestServer
	}
}
