package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/complianceengine/internal/registry"
)

// builtinInfo is the machine-readable shape of one registry entry.
type builtinInfo struct {
	Name        string   `json:"name"`
	Audit       bool     `json:"audit"`
	Remediate   bool     `json:"remediate"`
	Parameters  []string `json:"parameters,omitempty"`
	Description string   `json:"description,omitempty"`
}

func builtinsCommand() *cli.Command {
	return &cli.Command{
		Name:  "builtins",
		Usage: "List registered audit/remediate procedures and their parameters",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the builtin table as JSON",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			infos := make([]builtinInfo, 0)
			for _, b := range registry.Default().All() {
				infos = append(infos, builtinInfo{
					Name:        b.Name,
					Audit:       b.Audit != nil,
					Remediate:   b.Remediate != nil,
					Parameters:  b.FieldNames,
					Description: b.Description,
				})
			}
			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			for _, info := range infos {
				verbs := make([]string, 0, 2)
				if info.Audit {
					verbs = append(verbs, "audit")
				}
				if info.Remediate {
					verbs = append(verbs, "remediate")
				}
				fmt.Printf("%s (%s)\n", info.Name, strings.Join(verbs, ", "))
				if len(info.Parameters) > 0 {
					fmt.Printf("  parameters: %s\n", strings.Join(info.Parameters, ", "))
				}
				if info.Description != "" {
					fmt.Printf("  %s\n", info.Description)
				}
			}
			return nil
		},
	}
}
