package version

import (
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	oldCommit, oldBranch := GitCommit, GitBranch
	defer func() { GitCommit, GitBranch = oldCommit, oldBranch }()

	info := GetVersionInfo(ReaderApp)
	if !strings.HasPrefix(info, "CSI Reader version "+Version) {
		t.Errorf("unexpected version info: %s", info)
	}
	if strings.Contains(info, "commit") {
		t.Errorf("unknown commit should be omitted: %s", info)
	}

	GitCommit = "0123456789abcdef"
	GitBranch = "main"
	info = GetVersionInfo(CaptureApp)
	if !strings.Contains(info, "(commit 0123456) on branch main") {
		t.Errorf("expected short commit and branch: %s", info)
	}
	if got := GetFullVersion(); got != Version+"-0123456" {
		t.Errorf("unexpected full version: %s", got)
	}
}

func TestBuildInfoFields(t *testing.T) {
	fields := GetBuildInfo().Fields()
	if fields["version"] != Version {
		t.Errorf("unexpected version field: %v", fields["version"])
	}
	if fields["platform"] == "" {
		t.Error("expected platform field")
	}
}
