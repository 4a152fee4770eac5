package version

import (
	"testing"
)

// setBuildInfo overrides the build variables the way -ldflags -X does and
// restores them when the test ends.
func setBuildInfo(t *testing.T, version, commit, built string) {
	oldVersion, oldCommit, oldBuilt := Version, GitCommit, BuildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = oldVersion, oldCommit, oldBuilt
	})
	Version, GitCommit, BuildTime = version, commit, built
}

func TestDefaults(t *testing.T) {
	if got, exp := String(), "dev (commit unknown, built unknown)"; got != exp {
		t.Errorf("String() = %q, expected %q", got, exp)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		version string
		commit  string
		built   string
		exp     string
	}{
		{"v1.2.0", "1a2b3c4d5e6f7a8b9c0d", "2026-03-01T10:00:00Z", "v1.2.0 (commit 1a2b3c4, built 2026-03-01T10:00:00Z)"},
		{"v1.2.0", "1a2b3c4", "2026-03-01", "v1.2.0 (commit 1a2b3c4, built 2026-03-01)"},
		{"v0.1.0-rc1", "unknown", "unknown", "v0.1.0-rc1 (commit unknown, built unknown)"},
		{"dev", "abc", "unknown", "dev (commit abc, built unknown)"},
	}

	for _, tt := range tests {
		setBuildInfo(t, tt.version, tt.commit, tt.built)
		if got := String(); got != tt.exp {
			t.Errorf("String() with version %q commit %q = %q, expected %q",
				tt.version, tt.commit, got, tt.exp)
		}
	}
}
