// Package pkgcache implements the package-inventory cache used by the
// PackageInstalled builtin: an on-disk snapshot of the
// host's installed packages, refreshed under a TTL policy, written
// atomically via write-to-tempfile-then-rename.
package pkgcache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wharflab/complianceengine/internal/async"
	"github.com/wharflab/complianceengine/internal/cctx"
)

// cacheHeaderPrefix opens the first line of a cache file:
// "# PackageCache <mgr>@<epoch>\n".
const cacheHeaderPrefix = "# PackageCache "

// Cache is one snapshot of installed packages for a single package
// manager.
type Cache struct {
	PackageManager string
	LastUpdateTime time.Time
	Packages       map[string]string
}

// Load parses a cache file written by Save.
func Load(path string) (Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return Cache{}, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return Cache{}, errors.New("invalid cache file format")
	}
	header := scanner.Text()
	if !strings.HasPrefix(header, cacheHeaderPrefix) {
		return Cache{}, errors.New("invalid cache file format")
	}
	rest := strings.TrimPrefix(header, cacheHeaderPrefix)
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return Cache{}, errors.New("invalid cache file header format")
	}
	mgr := rest[:at]
	epoch, err := strconv.ParseInt(rest[at+1:], 10, 64)
	if err != nil {
		return Cache{}, errors.New("invalid timestamp in cache file header")
	}

	cache := Cache{
		PackageManager: mgr,
		LastUpdateTime: time.Unix(epoch, 0),
		Packages:       make(map[string]string),
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		cache.Packages[line[:sp]] = line[sp+1:]
	}
	if err := scanner.Err(); err != nil {
		return Cache{}, fmt.Errorf("error reading cache file: %w", err)
	}
	return cache, nil
}

// Save writes cache to path atomically: a temp file in the same directory
// is written and fsynced, then renamed over path.
func Save(cache Cache, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	if _, err := fmt.Fprintf(w, "%s%s@%d\n", cacheHeaderPrefix, cache.PackageManager, cache.LastUpdateTime.Unix()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header to temporary file: %w", err)
	}
	names := make([]string, 0, len(cache.Packages))
	for name := range cache.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s %s\n", name, cache.Packages[name]); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write package to temporary file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temporary file to target path: %w", err)
	}
	return nil
}

// DetectPackageManager probes for dpkg then rpm.
func DetectPackageManager(ctx context.Context, runner cctx.CommandRunner) string {
	if res := runner.Execute(ctx, "dpkg", "-l", "dpkg"); !res.IsErr() {
		return "dpkg"
	}
	if res := runner.Execute(ctx, "rpm", "-qa", "rpm"); !res.IsErr() {
		return "rpm"
	}
	if res := runner.Execute(ctx, "rpm", "-qa", "rpm-ndb"); !res.IsErr() {
		return "rpm"
	}
	return ""
}

// Fetch rebuilds a Cache from the live system via mgr ("rpm" or "dpkg").
func Fetch(ctx context.Context, runner cctx.CommandRunner, mgr string, now time.Time) (Cache, error) {
	switch mgr {
	case "rpm":
		return fetchRPM(ctx, runner, now)
	case "dpkg":
		return fetchDpkg(ctx, runner, now)
	default:
		return Cache{}, fmt.Errorf("unsupported package manager: %s", mgr)
	}
}

func fetchRPM(ctx context.Context, runner cctx.CommandRunner, now time.Time) (Cache, error) {
	res := runner.Execute(ctx, "rpm", "-qa", `--qf=%{NAME} %{EVR}\n`)
	if res.IsErr() {
		return Cache{}, fmt.Errorf("failed to execute rpm command: %w", res.Err)
	}
	cache := Cache{PackageManager: "rpm", LastUpdateTime: now, Packages: make(map[string]string)}
	for _, line := range strings.Split(res.Value, "\n") {
		if line == "" {
			continue
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		cache.Packages[line[:sp]] = line[sp+1:]
	}
	return cache, nil
}

func fetchDpkg(ctx context.Context, runner cctx.CommandRunner, now time.Time) (Cache, error) {
	res := runner.Execute(ctx, "dpkg", "-l")
	if res.IsErr() {
		return Cache{}, fmt.Errorf("failed to execute dpkg command: %w", res.Err)
	}
	cache := Cache{PackageManager: "dpkg", LastUpdateTime: now, Packages: make(map[string]string)}
	headerSkipped := false
	for _, line := range strings.Split(res.Value, "\n") {
		if !headerSkipped {
			if strings.HasPrefix(line, "+++-") {
				headerSkipped = true
			}
			continue
		}
		if !strings.HasPrefix(line, "ii ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		name := fields[1]
		version := fields[2]
		if idx := strings.IndexByte(name, ':'); idx >= 0 {
			name = name[:idx]
		}
		cache.Packages[name] = version
	}
	return cache, nil
}

// refreshRuntime runs background cache rebuilds. Keyed by cache path, so
// many rules consulting a stale cache in one invocation trigger exactly one
// rebuild.
var refreshRuntime = async.NewRuntime(1)

// WaitBackground blocks until any in-flight background refresh completes.
// The CLI calls it before exit so the rename in Save is never abandoned
// half-way; tests use it to observe refresh side effects deterministically.
func WaitBackground() {
	refreshRuntime.Wait()
}

// Resolve implements the TTL policy: fresh (<3000s) reuses
// the cache silently; stale (3000-12600s) reuses it but kicks a background
// refresh; expired (>12600s) or unreadable rebuilds synchronously, erroring
// if the rebuild itself fails.
func Resolve(ctx context.Context, runner cctx.CommandRunner, mgr, path string, freshTTL, staleTTL time.Duration, now time.Time) (Cache, error) {
	cache, loadErr := Load(path)
	valid := loadErr == nil && cache.PackageManager == mgr

	if valid {
		age := now.Sub(cache.LastUpdateTime)
		switch {
		case age > staleTTL:
			valid = false
		case age > freshTTL:
			triggerBackgroundRefresh(path, mgr, runner)
			return cache, nil
		default:
			return cache, nil
		}
	}

	fresh, err := Fetch(ctx, runner, mgr, now)
	if err != nil {
		if loadErr == nil && cache.PackageManager == mgr {
			// Had a stale-but-expired cache and the rebuild failed: an
			// expired rebuild failure is an error, not a silent reuse.
			return Cache{}, fmt.Errorf("failed to get installed packages: %w", err)
		}
		return Cache{}, fmt.Errorf("failed to get installed packages: %w", err)
	}
	_ = Save(fresh, path)
	return fresh, nil
}

func triggerBackgroundRefresh(path, mgr string, runner cctx.CommandRunner) {
	refreshRuntime.Submit(async.Job{
		Key: path,
		Run: func(ctx context.Context) error {
			operation := func() (Cache, error) {
				return Fetch(ctx, runner, mgr, time.Now())
			}
			fresh, err := backoff.Retry(ctx, operation,
				backoff.WithBackOff(backoff.NewExponentialBackOff()),
				backoff.WithMaxTries(2),
			)
			if err != nil {
				return err
			}
			return Save(fresh, path)
		},
	})
}
