package scripts

import (
	"strings"
	"testing"
)

func TestRestoreDrillDryRunStageOrder(t *testing.T) {
	stdout, stderr, err := runScript(t, "restore_drill.sh", "--dry-run")
	if err != nil {
		t.Fatalf("dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", err, stdout, stderr)
	}

	stages := []string{
		"creating mirror catalog backup",
		"[dry-run] pg_dump",
		"creating restore verification database",
		"restoring backup into verification database",
		"comparing mirror catalog counts source vs restored",
		"verifying migration version metadata parity",
		"running restored mirror consistency checks",
		"skipping API integrity check (no --api-url)",
		"dropping verification database",
		"restore drill succeeded",
	}
	offset := 0
	for _, stage := range stages {
		idx := strings.Index(stdout[offset:], stage)
		if idx < 0 {
			t.Fatalf("stage %q missing or out of order\noutput:\n%s", stage, stdout)
		}
		offset += idx + len(stage)
	}
}

func TestRestoreDrillDryRunPostsIntegrityCheck(t *testing.T) {
	stdout, stderr, err := runScript(t, "restore_drill.sh", "--dry-run", "--api-url", "http://localhost:8080")
	if err != nil {
		t.Fatalf("dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", err, stdout, stderr)
	}

	if !strings.Contains(stdout, "[dry-run] curl -X POST http://localhost:8080/v1/integrity/run") {
		t.Fatalf("missing integrity check curl\noutput:\n%s", stdout)
	}
	if strings.Contains(stdout, "(no --api-url)") {
		t.Fatalf("integrity check skipped despite --api-url\noutput:\n%s", stdout)
	}
}

func TestRestoreDrillKeepVerifyDB(t *testing.T) {
	stdout, stderr, err := runScript(t, "restore_drill.sh", "--dry-run", "--keep-verify-db")
	if err != nil {
		t.Fatalf("dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", err, stdout, stderr)
	}

	if !strings.Contains(stdout, "keeping verification database") {
		t.Fatalf("missing keep message\noutput:\n%s", stdout)
	}
	if strings.Contains(stdout, "dropping verification database") {
		t.Fatalf("verification database dropped despite --keep-verify-db\noutput:\n%s", stdout)
	}
}

func TestRestoreDrillRejectsUnknownArgument(t *testing.T) {
	_, stderr, err := runScript(t, "restore_drill.sh", "--not-a-real-flag")
	if err == nil {
		t.Fatal("expected non-zero exit for unknown flag")
	}
	if !strings.Contains(stderr, "unknown argument") {
		t.Fatalf("stderr missing unknown argument message:\n%s", stderr)
	}
}
