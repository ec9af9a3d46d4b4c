// Package testutil holds shared test helpers.
package testutil

import (
	"os"
	"testing"

	"github.com/gkampitakis/ciinfo"
	"github.com/gkampitakis/go-snaps/snaps"
)

// MatchSnapshot compares content against a golden snapshot next to the
// calling test (__snapshots__/<file>.snap). Run with UPDATE_SNAPS=true to
// regenerate; updating is refused on CI so a misconfigured pipeline can't
// silently rewrite the baselines it is supposed to verify.
func MatchSnapshot(t *testing.T, content string) {
	t.Helper()
	if ciinfo.IsCI && os.Getenv("UPDATE_SNAPS") == "true" {
		t.Fatal("refusing to update snapshots on CI; regenerate locally and commit the result")
	}
	snaps.MatchSnapshot(t, content)
}
