package version

import (
	"strings"
	"testing"
)

func TestVersion_Default(t *testing.T) {
	// Default version should be "dev"
	if Version != "dev" {
		// Version may be set by ldflags in CI, so just check it's not empty
		if Version == "" {
			t.Error("Version should not be empty")
		}
	}
}

func TestFull_DefaultVersion(t *testing.T) {
	origVersion := Version
	origCommit := GitCommit
	origBuildTime := BuildTime
	defer func() {
		Version = origVersion
		GitCommit = origCommit
		BuildTime = origBuildTime
	}()

	Version = "1.0.0"
	GitCommit = ""
	BuildTime = ""

	result := Full()
	if result != "1.0.0" {
		t.Errorf("Full() = %q, want %q", result, "1.0.0")
	}
}

func TestFull_WithCommit(t *testing.T) {
	origVersion := Version
	origCommit := GitCommit
	origBuildTime := BuildTime
	defer func() {
		Version = origVersion
		GitCommit = origCommit
		BuildTime = origBuildTime
	}()

	Version = "1.0.0"
	GitCommit = "abc1234"
	BuildTime = ""

	result := Full()
	if result != "1.0.0-abc1234" {
		t.Errorf("Full() = %q, want %q", result, "1.0.0-abc1234")
	}
}

func TestFull_Complete(t *testing.T) {
	origVersion := Version
	origCommit := GitCommit
	origBuildTime := BuildTime
	defer func() {
		Version = origVersion
		GitCommit = origCommit
		BuildTime = origBuildTime
	}()

	Version = "1.0.0"
	GitCommit = "abc1234"
	BuildTime = "2026-01-29T12:00:00Z"

	result := Full()
	expected := "1.0.0-abc1234 (2026-01-29T12:00:00Z)"
	if result != expected {
		t.Errorf("Full() = %q, want %q", result, expected)
	}

	if !strings.Contains(result, Version) {
		t.Error("Full() should contain Version")
	}
}
