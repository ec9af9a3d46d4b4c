// Command assessor is the CLI front end for the compliance engine: decode
// a MOF resource stream, dispatch every rule through internal/engine, and
// render the result with internal/reporter.
package main

import (
	"context"
	"os"

	"github.com/wharflab/complianceengine/cmd/assessor/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
