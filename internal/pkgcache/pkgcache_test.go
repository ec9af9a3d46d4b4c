package pkgcache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache")
	cache := Cache{
		PackageManager: "dpkg",
		LastUpdateTime: time.Unix(1700000000, 0),
		Packages:       map[string]string{"bash": "5.1-6", "curl": "7.81.0-1"},
	}
	if err := Save(cache, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PackageManager != "dpkg" || !got.LastUpdateTime.Equal(cache.LastUpdateTime) {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.Packages["bash"] != "5.1-6" {
		t.Errorf("bash version = %q", got.Packages["bash"])
	}
}

func TestCompareVersionsBasic(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"5.1-6", "5.0", 1},
		{"5.0", "5.1-6", -1},
		{"1.0.0", "1.0.0", 0},
		{"1:1.0", "0:2.0", 1}, // epoch dominates
		{"1.0~rc1", "1.0", -1},
		{"1.0", "1.0~rc1", 1},
		{"1.0~", "1.0", -1},
		{"1.0^post1", "1.0", 1},
		{"1.0.1", "1.0", 1},
		{"2", "10", -1},
		{"a", "b", -1},
	}
	for _, c := range cases {
		got := CompareVersions(c.a, c.b)
		if sign(got) != sign(c.want) {
			t.Errorf("CompareVersions(%q,%q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareVersionsAntisymmetric(t *testing.T) {
	pairs := [][2]string{{"1.2.3-1", "1.2.3-2"}, {"2.0", "1.9"}, {"1.0~a", "1.0"}}
	for _, p := range pairs {
		a, b := CompareVersions(p[0], p[1]), CompareVersions(p[1], p[0])
		if sign(a) != -sign(b) {
			t.Errorf("CompareVersions(%q,%q)=%d not antisymmetric with reverse=%d", p[0], p[1], a, b)
		}
	}
}

func TestCompareVersionsReflexive(t *testing.T) {
	for _, v := range []string{"1.2.3-1", "5.1-6", "1:2.0-3"} {
		if CompareVersions(v, v) != 0 {
			t.Errorf("CompareVersions(%q,%q) != 0", v, v)
		}
	}
}
