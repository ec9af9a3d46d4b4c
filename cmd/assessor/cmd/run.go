package cmd

import (
	"cmp"
	stdcontext "context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/config"
	"github.com/wharflab/complianceengine/internal/engine"
	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/pkgcache"
	_ "github.com/wharflab/complianceengine/internal/procedures"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/reporter"
	"github.com/wharflab/complianceengine/internal/resource"
	"github.com/wharflab/complianceengine/internal/status"
	"github.com/wharflab/complianceengine/internal/version"
)

// Exit codes
const (
	ExitCompliant    = 0 // Aggregate status is Compliant
	ExitNonCompliant = 1 // At least one rule is NonCompliant or errored
	ExitUsageError   = 2 // Config, flag, or input parse error
)

// assessFlags returns the root command's flag set. Every flag is
// persistent so it parses on either side of the audit/remediate verb.
func assessFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:       "config",
			Aliases:    []string{"c"},
			Usage:      "Path to config file (default: auto-discover)",
			Persistent: true,
		},
		&cli.BoolFlag{
			Name:       "verbose",
			Aliases:    []string{"v"},
			Usage:      "Log phase transitions and per-rule progress",
			Sources:    cli.EnvVars("COMPLIANCE_VERBOSE"),
			Persistent: true,
		},
		&cli.BoolFlag{
			Name:       "debug",
			Usage:      "Log per-step evidence while evaluating",
			Sources:    cli.EnvVars("COMPLIANCE_DEBUG"),
			Persistent: true,
		},
		&cli.StringFlag{
			Name:       "log-file",
			Usage:      "Write log lines to a file instead of stderr",
			Sources:    cli.EnvVars("COMPLIANCE_LOG_FILE"),
			Persistent: true,
		},
		&cli.StringFlag{
			Name:       "format",
			Aliases:    []string{"f"},
			Usage:      "Output format: nested-list, compact-list, json, debug, sarif",
			Sources:    cli.EnvVars("COMPLIANCE_OUTPUT_FORMAT"),
			Persistent: true,
		},
		&cli.StringFlag{
			Name:       "output",
			Aliases:    []string{"o"},
			Usage:      "Output path: stdout, stderr, or file path",
			Sources:    cli.EnvVars("COMPLIANCE_OUTPUT_PATH"),
			Persistent: true,
		},
		&cli.BoolFlag{
			Name:       "no-color",
			Usage:      "Disable colored output",
			Sources:    cli.EnvVars("NO_COLOR"),
			Persistent: true,
		},
		&cli.StringFlag{
			Name:       "section",
			Usage:      "Only process rules whose benchmark section starts with this prefix",
			Sources:    cli.EnvVars("COMPLIANCE_SECTION"),
			Persistent: true,
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:      "audit",
		Usage:     "Evaluate policy records against the live system (read-only)",
		ArgsUsage: "[INPUT]",
		Action: func(ctx stdcontext.Context, cmd *cli.Command) error {
			return runAssess(ctx, cmd, "audit")
		},
	}
}

func remediateCommand() *cli.Command {
	return &cli.Command{
		Name:      "remediate",
		Usage:     "Evaluate policy records and attempt to fix non-compliant findings",
		ArgsUsage: "[INPUT]",
		Action: func(ctx stdcontext.Context, cmd *cli.Command) error {
			return runAssess(ctx, cmd, "remediate")
		},
	}
}

// cliLogger adapts the standard library log package to the engine's
// level-gated log sink.
type cliLogger struct {
	l       *log.Logger
	verbose bool
	debug   bool
}

func (c *cliLogger) Debugf(format string, args ...any) {
	if c.debug {
		c.l.Printf("DEBUG "+format, args...)
	}
}

func (c *cliLogger) Infof(format string, args ...any) {
	if c.verbose || c.debug {
		c.l.Printf("INFO "+format, args...)
	}
}

func (c *cliLogger) Errorf(format string, args ...any) {
	c.l.Printf("ERROR "+format, args...)
}

func newLogger(cmd *cli.Command, cfg *config.Config) (*cliLogger, func() error, error) {
	dest := io.Writer(os.Stderr)
	closeFn := func() error { return nil }
	if path := cmp.Or(cmd.String("log-file"), cfg.LogFile); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		dest = f
		closeFn = f.Close
	}
	return &cliLogger{
		l:       log.New(dest, "", log.LstdFlags),
		verbose: cmd.Bool("verbose"),
		debug:   cmd.Bool("debug"),
	}, closeFn, nil
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if path := cmd.String("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load(".")
}

// openInput returns the MOF record stream: the positional argument when
// given, stdin otherwise.
func openInput(cmd *cli.Command) (io.Reader, func() error, error) {
	path := cmd.Args().First()
	if path == "" || path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, f.Close, nil
}

func colorOverride(cmd *cli.Command, cfg *config.Config) *bool {
	no := false
	yes := true
	if cmd.Bool("no-color") {
		return &no
	}
	switch cfg.Output.Color {
	case "always":
		return &yes
	case "never":
		return &no
	default:
		return nil
	}
}

func runAssess(ctx stdcontext.Context, cmd *cli.Command, action string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}

	format, err := reporter.ParseFormat(cmp.Or(cmd.String("format"), cfg.Output.Format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}

	logger, closeLog, err := newLogger(cmd, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}
	defer closeLog() //nolint:errcheck

	writer, closeOut, err := reporter.GetWriter(cmp.Or(cmd.String("output"), cfg.Output.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}
	defer closeOut() //nolint:errcheck

	formatter, err := reporter.New(reporter.Options{
		Format:      format,
		Writer:      writer,
		Color:       colorOverride(cmd, cfg),
		ToolName:    "assessor",
		ToolVersion: version.Version(),
		ToolURI:     "https://github.com/wharflab/complianceengine",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}

	input, closeIn, err := openInput(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}
	defer closeIn() //nolint:errcheck

	section := cmp.Or(cmd.String("section"), cfg.Section)

	eng := engine.New(registry.Default(), func(rule string) registry.Context {
		return cctx.New(rule, cctx.WithLogger(logger))
	})

	logger.Infof("starting %s", action)
	if err := formatter.Begin(action); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}

	aggregate := status.Compliant
	readErr := resource.Read(input, func(res resource.Resource, parseErr error) bool {
		if parseErr != nil {
			logger.Errorf("skipping malformed record: %v", parseErr)
			aggregate = status.NonCompliant
			return true
		}
		if !resource.MatchesSection(res.BenchmarkSection, section) {
			logger.Debugf("rule %s: section %q filtered out", res.RuleName, res.BenchmarkSection)
			return true
		}

		st, root := dispatchRule(ctx, eng, res, action, logger)
		if st != status.Compliant {
			aggregate = status.NonCompliant
		}
		entry := reporter.Entry{
			RuleName: res.RuleName,
			Section:  res.BenchmarkSection,
			Status:   st,
			Root:     root,
			Params:   eng.Params(res.RuleName),
		}
		if err := formatter.AddEntry(entry); err != nil {
			logger.Errorf("formatter: %v", err)
			return false
		}
		return true
	})
	if readErr != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read input: %v\n", readErr)
		return cli.Exit("", ExitUsageError)
	}

	if _, err := formatter.Finish(aggregate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitUsageError)
	}
	logger.Infof("finished %s: %s", action, aggregate)

	pkgcache.WaitBackground()

	if aggregate != status.Compliant {
		return cli.Exit("", ExitNonCompliant)
	}
	return nil
}

// dispatchRule loads one resource into the engine and evaluates it for the
// requested action, reducing every failure mode to a (status, indicator)
// pair the formatter can render.
func dispatchRule(_ stdcontext.Context, eng *engine.Engine, res resource.Resource, action string, logger *cliLogger) (status.Status, *indicators.Indicator) {
	if err := eng.LoadResource(res); err != nil {
		logger.Errorf("rule %s: %s", res.RuleName, err.Message)
		return status.Error, errorIndicator(res.RuleName, err)
	}

	var (
		st   status.Status
		root *indicators.Indicator
		err  *status.Err
	)
	if action == "remediate" {
		st, root, err = eng.MmiSet("remediate"+res.RuleName, nil)
	} else {
		st, root, err = eng.MmiGet("audit" + res.RuleName)
	}
	if err != nil {
		logger.Errorf("rule %s: %s", res.RuleName, err.Message)
		if root == nil {
			root = errorIndicator(res.RuleName, err)
		}
		return status.Error, root
	}
	logger.Debugf("rule %s: %s", res.RuleName, st)
	return st, root
}

func errorIndicator(ruleName string, err *status.Err) *indicators.Indicator {
	return &indicators.Indicator{
		Label:    ruleName,
		Status:   status.Error,
		Messages: []string{err.Error()},
	}
}
