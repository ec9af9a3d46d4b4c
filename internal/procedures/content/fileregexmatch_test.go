package content

import (
	"testing"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

func judge(behavior string, fileCount, matchCount, mismatchCount, errorCount int) status.Result[status.Status] {
	ind := indicators.New("FileRegexMatch")
	return judgeBehavior(ind, behavior, fileCount, matchCount, mismatchCount, errorCount)
}

func TestJudgeBehaviorVerdicts(t *testing.T) {
	cases := []struct {
		name     string
		behavior string
		files    int
		matches  int
		misses   int
		errors   int
		want     status.Status
	}{
		{"all matched", "all_exist", 3, 3, 0, 0, status.Compliant},
		{"one mismatch", "all_exist", 3, 2, 1, 0, status.NonCompliant},
		{"none matched", "all_exist", 2, 0, 2, 0, status.NonCompliant},
		{"any with matches", "any_exist", 3, 1, 1, 1, status.Compliant},
		{"any without matches", "any_exist", 2, 0, 2, 0, status.Compliant},
		{"at least one", "at_least_one_exists", 3, 1, 2, 0, status.Compliant},
		{"at least one, none", "at_least_one_exists", 2, 0, 2, 0, status.NonCompliant},
		{"none exist clean", "none_exist", 2, 0, 2, 0, status.Compliant},
		{"none exist violated", "none_exist", 2, 1, 1, 0, status.NonCompliant},
		{"exactly one", "only_one_exists", 3, 1, 2, 0, status.Compliant},
		{"two matched", "only_one_exists", 3, 2, 1, 0, status.NonCompliant},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := judge(c.behavior, c.files, c.matches, c.misses, c.errors)
			if res.IsErr() {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if res.Value != c.want {
				t.Errorf("got %v, want %v", res.Value, c.want)
			}
		})
	}
}

func TestJudgeBehaviorErrorsBubbleUpWhenDecisive(t *testing.T) {
	decisive := []struct {
		name     string
		behavior string
		files    int
		matches  int
		misses   int
		errors   int
	}{
		{"all_exist with errors", "all_exist", 3, 1, 0, 2},
		{"any_exist no matches", "any_exist", 2, 0, 0, 2},
		{"at_least_one no matches", "at_least_one_exists", 2, 0, 1, 1},
		{"none_exist with errors", "none_exist", 2, 0, 1, 1},
		{"only_one with errors", "only_one_exists", 2, 1, 0, 1},
		{"only_one none matched", "only_one_exists", 2, 0, 1, 1},
	}
	for _, c := range decisive {
		t.Run(c.name, func(t *testing.T) {
			res := judge(c.behavior, c.files, c.matches, c.misses, c.errors)
			if !res.IsErr() {
				t.Fatalf("expected error, got %v", res.Value)
			}
		})
	}

	// An error that cannot change the verdict is tolerated.
	res := judge("at_least_one_exists", 3, 1, 1, 1)
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("error should be tolerated once a match decides the verdict, got %+v", res)
	}
}
