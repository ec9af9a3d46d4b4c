// Package procedures links every builtin family into the process-wide
// registry. Importing it (usually blank) is what makes the builtin library
// available to the compiler and evaluator; each family package registers
// itself in its init function.
package procedures

import (
	_ "github.com/wharflab/complianceengine/internal/procedures/content"
	_ "github.com/wharflab/complianceengine/internal/procedures/daemon"
	_ "github.com/wharflab/complianceengine/internal/procedures/desktop"
	_ "github.com/wharflab/complianceengine/internal/procedures/exec"
	_ "github.com/wharflab/complianceengine/internal/procedures/fileops"
	_ "github.com/wharflab/complianceengine/internal/procedures/fileperm"
	_ "github.com/wharflab/complianceengine/internal/procedures/firewall"
	_ "github.com/wharflab/complianceengine/internal/procedures/meta"
	_ "github.com/wharflab/complianceengine/internal/procedures/mount"
	_ "github.com/wharflab/complianceengine/internal/procedures/pkg"
	_ "github.com/wharflab/complianceengine/internal/procedures/session"
	_ "github.com/wharflab/complianceengine/internal/procedures/sysctl"
	_ "github.com/wharflab/complianceengine/internal/procedures/users"
)
