package pkgcache

import (
	"strings"
)

// CompareVersions implements RPM EVR (epoch:version-release) comparison,
// including the `~` pre-release and `^` post-release markers real rpm/dpkg
// version strings use. Returns -1, 0, or 1 as v1 compares to v2.
func CompareVersions(v1, v2 string) int {
	e1, ver1, rel1 := splitEVR(v1)
	e2, ver2, rel2 := splitEVR(v2)

	if c := compareParts(e1, e2); c != 0 {
		return c
	}
	if c := compareParts(ver1, ver2); c != 0 {
		return c
	}
	return compareParts(rel1, rel2)
}

// splitEVR splits a version string into epoch, version, release following
// rpm's convention: an explicit "epoch:" prefix, else "0"; the last
// "-" separates version from release, else release defaults to "0".
func splitEVR(v string) (epoch, version, release string) {
	epoch = "0"
	rest := v
	if idx := strings.IndexByte(v, ':'); idx >= 0 {
		epoch = v[:idx]
		rest = v[idx+1:]
	}
	if idx := strings.LastIndexByte(rest, '-'); idx > 0 {
		version = rest[:idx]
		release = rest[idx+1:]
	} else {
		version = rest
		release = "0"
	}
	return epoch, version, release
}

// compareParts compares one EVR component (epoch, version, or release) by
// splitting it into alternating alphanumeric runs and comparing
// corresponding runs: numeric runs compare numerically (leading zeroes
// stripped), alpha runs compare lexically, and a numeric run always beats
// an alpha run at the same position. A `~` run sorts before everything,
// including the empty string (tilde marks a pre-release); `^` sorts after
// everything a plain run would (caret marks a post-release).
func compareParts(p1, p2 string) int {
	parts1 := splitAlnum(p1)
	parts2 := splitAlnum(p2)
	n := len(parts1)
	if len(parts2) > n {
		n = len(parts2)
	}
	for i := 0; i < n; i++ {
		var a, b string
		if i < len(parts1) {
			a = parts1[i]
		}
		if i < len(parts2) {
			b = parts2[i]
		}
		// Tilde and caret outrank the exhausted-operand rule: a trailing
		// `~` still sorts its operand lower, a trailing `^` higher.
		if a == "~" || b == "~" {
			if a == b {
				continue
			}
			if a == "~" {
				return -1
			}
			return 1
		}
		if a == "^" || b == "^" {
			if a == b {
				continue
			}
			if a == "^" {
				return 1
			}
			return -1
		}
		if a == "" {
			return -1
		}
		if b == "" {
			return 1
		}
		aNum := isDigit(a[0])
		bNum := isDigit(b[0])
		switch {
		case aNum && bNum:
			if c := compareNumeric(a, b); c != 0 {
				return c
			}
		case !aNum && !bNum:
			if c := strings.Compare(a, b); c != 0 {
				return sign(c)
			}
		case aNum:
			return 1
		default:
			return -1
		}
	}
	return 0
}

func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if a == "" {
		a = "0"
	}
	if b == "" {
		b = "0"
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return sign(strings.Compare(a, b))
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	default:
		return 0
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// splitAlnum splits v into alternating digit-runs and non-digit runs,
// skipping non-alphanumeric separator characters, and treating a bare
// "~" or "^" marker as its own run.
func splitAlnum(v string) []string {
	var parts []string
	i := 0
	for i < len(v) {
		switch {
		case v[i] == '~' || v[i] == '^':
			parts = append(parts, v[i:i+1])
			i++
		case !isAlnum(v[i]):
			i++
		case isDigit(v[i]):
			j := i
			for j < len(v) && isDigit(v[j]) {
				j++
			}
			parts = append(parts, v[i:j])
			i = j
		default:
			j := i
			for j < len(v) && isAlnum(v[j]) && !isDigit(v[j]) {
				j++
			}
			parts = append(parts, v[i:j])
			i = j
		}
	}
	return parts
}

func isAlnum(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
