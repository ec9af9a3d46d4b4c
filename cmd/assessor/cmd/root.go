package cmd

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/complianceengine/internal/version"
)

// NewApp creates the CLI application
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "assessor",
		Usage:   "Audit and remediate Linux host configuration against policy benchmarks",
		Version: version.Version(),
		Description: `assessor evaluates machine-readable policy records against the live
system, producing a per-rule compliance verdict with evidence, and can
optionally remediate non-compliant findings.

Examples:
  assessor audit baseline.mof
  assessor --format json audit baseline.mof
  assessor --section 1.1 remediate baseline.mof
  cat baseline.mof | assessor audit`,
		Flags: assessFlags(),
		Commands: []*cli.Command{
			auditCommand(),
			remediateCommand(),
			builtinsCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application
func Execute(ctx context.Context) error {
	return NewApp().Run(ctx, os.Args)
}
