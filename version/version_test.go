package version

import (
	"strings"
	"testing"
)

// withVersionVars temporarily sets version variables and restores them after the test.
func withVersionVars(t *testing.T, v, commit, date string, fn func()) {
	t.Helper()
	origVersion, origCommit, origDate := version, gitCommit, buildDate
	defer func() {
		version, gitCommit, buildDate = origVersion, origCommit, origDate
	}()
	version, gitCommit, buildDate = v, commit, date
	fn()
}

func TestGetVersion(t *testing.T) {
	if v := GetVersion(); v == "" {
		t.Error("GetVersion() returned empty string")
	}
}

func TestGetVersion_NonDev(t *testing.T) {
	withVersionVars(t, "1.0.0", "", "", func() {
		if v := GetVersion(); v != "1.0.0" {
			t.Errorf("Expected '1.0.0', got '%s'", v)
		}
	})
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	if !strings.Contains(info, "voicebridge version") {
		t.Errorf("GetVersionInfo() should name the binary, got: %s", info)
	}
}

func TestGetVersionInfo_WithBuildVars(t *testing.T) {
	withVersionVars(t, "2.1.0", "abc1234", "2026-08-30", func() {
		info := GetVersionInfo()
		for _, want := range []string{"2.1.0", "abc1234", "2026-08-30"} {
			if !strings.Contains(info, want) {
				t.Errorf("GetVersionInfo() missing %q, got: %s", want, info)
			}
		}
	})
}

func TestGetBuildInfo(t *testing.T) {
	withVersionVars(t, "2.1.0", "abc1234", "", func() {
		attrs := GetBuildInfo()
		if len(attrs) < 4 {
			t.Fatalf("Expected at least version and commit pairs, got %v", attrs)
		}
		if attrs[0] != "version" || attrs[1] != "2.1.0" {
			t.Errorf("Expected version 2.1.0 first, got %v", attrs[:2])
		}
	})
}
