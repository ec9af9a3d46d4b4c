// Package content implements file-content inspection builtins. Benchmark
// patterns are written against ECMAScript regex semantics, so this package
// uses dlclark/regexp2 in its ECMAScript mode; lookahead and
// backreferences in existing benchmark patterns keep working, which Go's
// RE2-based stdlib regexp cannot express.
package content

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "FileRegexMatch",
		Audit:      auditFileRegexMatch,
		FieldNames: []string{"path", "filenamePattern", "matchPattern", "statePattern", "ignoreCase", "behavior"},
		Description: "Scans files in a directory whose name matches filenamePattern for lines matching matchPattern " +
			"(and optionally a captured group matching statePattern), judging compliance by the ExistenceEnumeration-style behavior parameter.",
	})
}

type params struct {
	Path            bindings.StringValue                                         `param:"path"`
	FilenamePattern bindings.StringValue                                         `param:"filenamePattern"`
	MatchPattern    bindings.StringValue                                         `param:"matchPattern"`
	StatePattern    bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"statePattern"`
	IgnoreCase      bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"ignoreCase"`
	Behavior        bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"behavior"`
}

// compileECMAScript compiles pattern with regexp2 in its ECMAScript
// compatibility mode, matching the ECMAScript dialect benchmark patterns
// are written in
// default syntax.
func compileECMAScript(pattern string, icase bool) (*regexp2.Regexp, error) {
	opts := regexp2.ECMAScript
	if icase {
		opts |= regexp2.IgnoreCase
	}
	return regexp2.Compile(pattern, opts)
}

func fullMatch(re *regexp2.Regexp, s string) (bool, error) {
	m, err := re.FindStringMatch(s)
	if err != nil {
		return false, err
	}
	return m != nil && m.Index == 0 && m.Length == len(s), nil
}

func search(re *regexp2.Regexp, s string) (*regexp2.Match, error) {
	return re.FindStringMatch(s)
}

func auditFileRegexMatch(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[params](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	matchOp := "pattern match"
	if p.MatchPattern == "" {
		return status.Fail[status.Status](status.NewCallerError("Missing 'matchPattern' parameter"))
	}

	matchIcase, stateIcase := false, false
	if p.IgnoreCase.Set {
		for _, tok := range strings.Fields(string(p.IgnoreCase.Value)) {
			switch tok {
			case "matchPattern":
				matchIcase = true
			case "statePattern":
				stateIcase = true
			default:
				return status.Fail[status.Status](status.NewCallerError("ignoreCase must be 'matchPattern' or 'statePattern' or both"))
			}
		}
	}

	filenameRe, reErr := compileECMAScript(string(p.FilenamePattern), false)
	if reErr != nil {
		return status.Fail[status.Status](status.NewCallerError("Invalid filename pattern: %v", reErr))
	}
	matchRe, reErr := compileECMAScript(string(p.MatchPattern), matchIcase)
	if reErr != nil {
		return status.Fail[status.Status](status.NewCallerError("Regex error: %v", reErr))
	}
	var stateRe *regexp2.Regexp
	if p.StatePattern.Set {
		stateRe, reErr = compileECMAScript(string(p.StatePattern.Value), stateIcase)
		if reErr != nil {
			return status.Fail[status.Status](status.NewCallerError("Regex error: %v", reErr))
		}
	}

	behavior := "all_exist"
	if p.Behavior.Set && p.Behavior.Value != "" {
		behavior = string(p.Behavior.Value)
	}
	switch behavior {
	case "all_exist", "any_exist", "at_least_one_exists", "none_exist", "only_one_exists":
	default:
		return status.Fail[status.Status](status.NewCallerError("Unknown behavior: %s", behavior))
	}
	_ = matchOp // only "pattern match" is currently supported, enforced implicitly

	entries, readErr := os.ReadDir(string(p.Path))
	if readErr != nil {
		if behavior == "none_exist" {
			return status.Ok(status.Compliant)
		}
		return status.Ok(ind.NonCompliant("Failed to open directory '%s': %v", p.Path, readErr))
	}

	var fileCount, matchCount, mismatchCount, errorCount int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, matchErr := fullMatch(filenameRe, entry.Name())
		if matchErr != nil || !ok {
			continue
		}
		fileCount++
		matched, matchErr := multilineMatch(string(p.Path)+"/"+entry.Name(), matchRe, stateRe)
		switch {
		case matchErr != nil:
			errorCount++
		case matched:
			matchCount++
		default:
			mismatchCount++
		}
	}

	return judgeBehavior(ind, behavior, fileCount, matchCount, mismatchCount, errorCount)
}

// multilineMatch reads filename line by line, searching for matchPattern;
// when a line matches and statePattern is set, the first capture group (or
// the whole match if there is none) must also satisfy statePattern.
func multilineMatch(filename string, matchRe, stateRe *regexp2.Regexp) (bool, error) {
	f, err := os.Open(filename)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m, searchErr := search(matchRe, line)
		if searchErr != nil {
			return false, searchErr
		}
		if m == nil {
			continue
		}
		if stateRe == nil {
			return true, nil
		}
		valueToMatch := m.String()
		if groups := m.Groups(); len(groups) > 1 {
			valueToMatch = groups[1].String()
		}
		stateMatch, stateErr := search(stateRe, valueToMatch)
		if stateErr != nil {
			return false, stateErr
		}
		if stateMatch != nil {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// judgeBehavior maps file match/mismatch/error counters onto the OVAL
// ExistenceEnumeration-style behavior parameter. Per-file errors surface
// as a hard Error only when they could change the verdict.
func judgeBehavior(ind interface {
	Compliant(format string, args ...any) status.Status
	NonCompliant(format string, args ...any) status.Status
}, behavior string, fileCount, matchCount, mismatchCount, errorCount int) status.Result[status.Status] {
	matchError := status.NewSystemError("Error occurred during pattern matching", nil)
	switch behavior {
	case "all_exist":
		if mismatchCount > 0 {
			return status.Ok(ind.NonCompliant("At least one file did not match the pattern"))
		}
		if errorCount > 0 {
			return status.Fail[status.Status](matchError)
		}
		if matchCount > 0 {
			return status.Ok(ind.Compliant("All %d files matched the pattern", fileCount))
		}
		return status.Ok(ind.NonCompliant("Expected all files to match, but only %d out of %d matched", matchCount, fileCount))
	case "any_exist":
		if matchCount == 0 && errorCount > 0 {
			return status.Fail[status.Status](matchError)
		}
		return status.Ok(ind.Compliant("Found %d matches", matchCount))
	case "at_least_one_exists":
		if matchCount > 0 {
			return status.Ok(ind.Compliant("At least one file matched, found %d matches", matchCount))
		}
		if errorCount > 0 {
			return status.Fail[status.Status](matchError)
		}
		return status.Ok(ind.NonCompliant("Expected at least one file to match, but none did"))
	case "none_exist":
		if matchCount > 0 {
			return status.Ok(ind.NonCompliant("Expected no files to match, but %d matched", matchCount))
		}
		if errorCount > 0 {
			return status.Fail[status.Status](matchError)
		}
		return status.Ok(ind.Compliant("No files matched the pattern"))
	case "only_one_exists":
		if matchCount == 1 && errorCount == 0 {
			return status.Ok(ind.Compliant("Exactly one file matched the pattern"))
		}
		if matchCount > 1 {
			return status.Ok(ind.NonCompliant("Expected only one file to match, but %d matched", matchCount))
		}
		if errorCount > 0 {
			return status.Fail[status.Status](matchError)
		}
		return status.Ok(ind.NonCompliant("Expected exactly one file to match, but none did"))
	default:
		// unreachable: auditFileRegexMatch validates behavior before calling
		return status.Fail[status.Status](status.NewCallerError("Unknown behavior: %s", behavior))
	}
}
