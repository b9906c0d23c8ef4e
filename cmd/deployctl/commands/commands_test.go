package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/stores"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func statusReport(t *testing.T, path string, args ...string) engine.StatusReport {
	t.Helper()

	out, err := runCLI(t, append([]string{"status", "--config", path, "--json"}, args...)...)
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	var report engine.StatusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode status: %v\n%s", err, out)
	}
	return report
}

func TestSampleProjectLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")

	if out, err := runCLI(t, "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if _, err := runCLI(t, "init", "--config", path); err == nil {
		t.Error("expected init to refuse overwriting the project file")
	}

	out, err := runCLI(t, "validate", "--config", path, "--json")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	var validation validationReport
	if err := json.Unmarshal([]byte(out), &validation); err != nil {
		t.Fatalf("failed to decode validation report: %v\n%s", err, out)
	}
	if !validation.Valid || len(validation.Policies) != 4 || validation.Scenarios["default"] != 5 {
		t.Errorf("unexpected validation report: %+v", validation)
	}

	out, err = runCLI(t, "apply", "--config", path, "--env", "dev")
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "run finished: completed") {
		t.Errorf("expected completed run, got:\n%s", out)
	}

	report := statusReport(t, path, "--env", "dev")
	if report.Status != engine.StatusCompleted || report.Satisfied != report.Total || report.Total != 5 {
		t.Errorf("unexpected dev status: %+v", report)
	}

	// A second apply skips everything.
	out, err = runCLI(t, "apply", "--config", path, "--env", "dev", "--json")
	if err != nil {
		t.Fatalf("second apply failed: %v\n%s", err, out)
	}
	var result engine.RunResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to decode run result: %v\n%s", err, out)
	}
	if got := result.Summary()[engine.OutcomeSkipped]; got != 5 {
		t.Errorf("expected 5 skipped steps, got %d", got)
	}

	if _, err := runCLI(t, "reset", "--config", path, "--env", "dev"); err == nil {
		t.Error("expected reset without --yes to fail")
	}
	if out, err := runCLI(t, "reset", "--config", path, "--env", "dev", "--yes"); err != nil {
		t.Fatalf("reset failed: %v\n%s", err, out)
	}
	if report := statusReport(t, path, "--env", "dev"); report.Status != engine.StatusNotStarted {
		t.Errorf("expected not_started after reset, got %s", report.Status)
	}
}

func TestProtectedEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")
	if out, err := runCLI(t, "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}

	_, err := runCLI(t, "apply", "--config", path, "--env", "prod")
	if err == nil || !strings.Contains(err.Error(), "protected") {
		t.Fatalf("expected protected environment denial, got %v", err)
	}
	if report := statusReport(t, path, "--env", "prod"); report.Status != engine.StatusNotStarted {
		t.Errorf("expected denied run to leave progress untouched, got %s", report.Status)
	}

	// Preview runs are not gated and never touch committed progress.
	if out, err := runCLI(t, "preview", "--config", path, "--env", "prod"); err != nil {
		t.Fatalf("preview failed: %v\n%s", err, out)
	}
	if report := statusReport(t, path, "--env", "prod", "--preview"); report.Status != engine.StatusCompleted {
		t.Errorf("expected completed preview, got %s", report.Status)
	}
	if report := statusReport(t, path, "--env", "prod"); report.Status != engine.StatusNotStarted {
		t.Errorf("expected committed progress untouched by preview, got %s", report.Status)
	}

	if _, err := runCLI(t, "reset", "--config", path, "--env", "prod", "--yes"); err == nil {
		t.Error("expected reset of a protected environment to require --allow-protected")
	}
	if out, err := runCLI(t, "reset", "--config", path, "--env", "prod", "--preview", "--yes"); err != nil {
		t.Errorf("expected preview reset to be allowed, got %v\n%s", err, out)
	}

	if out, err := runCLI(t, "apply", "--config", path, "--env", "prod", "--allow-protected"); err != nil {
		t.Fatalf("allowed apply failed: %v\n%s", err, out)
	}
}

const freezePolicy = `# Previews are frozen.
# severity: error

package custom.freeze

import rego.v1

deny contains msg if {
	input.mode == "preview"
	msg := "previews are frozen"
}
`

func TestPreviewFreshKeepsProgressWhenBlocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploykit.yaml")
	if out, err := runCLI(t, "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if out, err := runCLI(t, "preview", "--config", path, "--env", "dev"); err != nil {
		t.Fatalf("preview failed: %v\n%s", err, out)
	}

	if err := os.WriteFile(filepath.Join(dir, "freeze.rego"), []byte(freezePolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content = append(content, []byte("\npolicies:\n  files: [freeze.rego]\n")...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = runCLI(t, "preview", "--config", path, "--env", "dev", "--fresh")
	if err == nil || !strings.Contains(err.Error(), "frozen") {
		t.Fatalf("expected the freeze policy to block the preview, got %v", err)
	}
	if report := statusReport(t, path, "--env", "dev", "--preview"); report.Status != engine.StatusCompleted {
		t.Errorf("expected blocked --fresh preview to keep earlier progress, got %s", report.Status)
	}

	// Policies loaded from files can be disabled by name.
	content = append(content, []byte("  disable: [freeze]\n")...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if out, err := runCLI(t, "preview", "--config", path, "--env", "dev", "--fresh"); err != nil {
		t.Fatalf("expected preview with the freeze policy disabled to run, got %v\n%s", err, out)
	}
}

const execProject = `name: exec-test

environments:
  - id: dev
    params:
      region: local

scenarios:
  - name: stack
    steps:
      - name: network
        create: true
      - name: app
        create: true
        configure: true
        requires: [network]

actions:
  mode: exec
  steps:
    network:
      create: printf '{"resourceId":"net-%s"}' "$DEPLOYKIT_PARAM_REGION"
    app:
      create: echo "creating on $DEPLOYKIT_INPUT_NETWORK"; echo '{"resourceId":"app-1","cost":2}'
      configure: CONFIGURE_COMMAND
`

func writeExecProject(t *testing.T, path, configure string) {
	t.Helper()
	content := strings.Replace(execProject, "CONFIGURE_COMMAND", configure, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExecActionsResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")
	writeExecProject(t, path, "echo config failed >&2; exit 1")

	out, err := runCLI(t, "apply", "--config", path, "--env", "dev")
	if err == nil {
		t.Fatalf("expected failing configure command to fail the run\n%s", out)
	}
	if !engine.IsActionFailure(err) {
		t.Errorf("expected an action failure, got %v", err)
	}

	report := statusReport(t, path, "--env", "dev")
	if report.Status != engine.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", report.Status)
	}
	app := report.Steps[1]
	if app.ResourceID != "app-1" || !app.Created || app.Configured {
		t.Errorf("expected app created but not configured, got %+v", app)
	}
	if report.Steps[0].ResourceID != "net-local" {
		t.Errorf("expected network resource from the create command, got %+v", report.Steps[0])
	}

	writeExecProject(t, path, `test "$DEPLOYKIT_RESOURCE_ID" = app-1`)
	out, err = runCLI(t, "apply", "--config", path, "--env", "dev", "--json")
	if err != nil {
		t.Fatalf("resumed apply failed: %v\n%s", err, out)
	}

	var result engine.RunResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to decode run result: %v\n%s", err, out)
	}
	network, _ := result.Step("network")
	if network.Outcome != engine.OutcomeSkipped {
		t.Errorf("expected network to be skipped on resume, got %s", network.Outcome)
	}
	appResult, _ := result.Step("app")
	if len(appResult.Phases) != 1 || appResult.Phases[0] != engine.PhaseConfigure {
		t.Errorf("expected only the configure phase to run, got %v", appResult.Phases)
	}
	if result.Status != engine.StatusCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
}

func TestSQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")
	if out, err := runCLI(t, "init", "--config", path, "--backend", "sqlite"); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if out, err := runCLI(t, "apply", "--config", path, "--env", "dev"); err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}

	out, err := runCLI(t, "history", "--config", path, "--json")
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	var runs []stores.RunEntry
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("failed to decode runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].Environment != "dev" || runs[0].Status != stores.RunStatusSucceeded {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	out, err = runCLI(t, "history", "--config", path, "--run", runs[0].ID, "--json")
	if err != nil {
		t.Fatalf("history --run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"run.completed"`) {
		t.Errorf("expected run.completed event in journal:\n%s", out)
	}
}

func TestHistoryRequiresSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")
	if out, err := runCLI(t, "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if _, err := runCLI(t, "history", "--config", path); err == nil {
		t.Error("expected history to require the sqlite backend")
	}
}

func TestGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")
	if out, err := runCLI(t, "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}

	out, err := runCLI(t, "graph", "--config", path)
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph") || !strings.Contains(out, `"app-config"`) {
		t.Errorf("unexpected DOT output:\n%s", out)
	}
}

func TestUnknownEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploykit.yaml")
	if out, err := runCLI(t, "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}

	_, err := runCLI(t, "apply", "--config", path, "--env", "staging")
	if err == nil || !strings.Contains(err.Error(), "unknown environment") {
		t.Errorf("expected unknown environment error, got %v", err)
	}
}

func TestRunLock(t *testing.T) {
	dir := t.TempDir()
	key := stores.Key{Environment: "dev", Scenario: "default", Mode: stores.ModeCommit}

	lock, err := acquireLock(dir, key)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if _, err := acquireLock(dir, key); err == nil || !strings.Contains(err.Error(), "store dev/default is locked") {
		t.Errorf("expected second acquire to fail, got %v", err)
	}

	other := key
	other.Mode = stores.ModePreview
	previewLock, err := acquireLock(dir, other)
	if err != nil {
		t.Errorf("expected preview store to lock independently, got %v", err)
	} else {
		if _, err := acquireLock(dir, other); err == nil || !strings.Contains(err.Error(), "store dev/default@preview is locked") {
			t.Errorf("expected preview lock to name its store once, got %v", err)
		}
		_ = previewLock.Release()
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}
	relock, err := acquireLock(dir, key)
	if err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
	_ = relock.Release()
}
