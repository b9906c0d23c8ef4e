package actions

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

func newTestExec(commands map[string]Commands) *Exec {
	return NewExec(ExecConfig{
		Env:      map[string]string{"EXTRA": "yes"},
		Commands: commands,
	}, nil)
}

func testRequest(step string) engine.ActionRequest {
	return engine.ActionRequest{
		Step:        step,
		Inputs:      map[string]string{},
		Params:      map[string]string{"region": "eu-west-1"},
		Environment: "dev",
		Scenario:    "default",
		Mode:        stores.ModeCommit,
	}
}

func TestExecCreate(t *testing.T) {
	e := newTestExec(map[string]Commands{
		"db": {Create: `printf '{"resourceId":"%s-%s-%s","cost":3}' "$DEPLOYKIT_STEP" "$DEPLOYKIT_PARAM_REGION" "$EXTRA"`},
	})

	res, err := e.Create(context.Background(), testRequest("db"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.ResourceID != "db-eu-west-1-yes" || res.Cost != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestExecUsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	ctx := logger.WithRunID("run-7").WithStep("db").WithContext(context.Background())

	e := newTestExec(map[string]Commands{"db": {Create: `echo '{"resourceId":"db-1"}'`}})
	if _, err := e.Create(ctx, testRequest("db")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"run_id":"run-7"`) || !strings.Contains(out, "command completed") {
		t.Errorf("expected command logs on the run logger, got:\n%s", out)
	}
}

func TestExecConfigureEnvironment(t *testing.T) {
	e := newTestExec(map[string]Commands{
		"app-config": {Configure: `test "$DEPLOYKIT_RESOURCE_ID" = "app-1" &&
test "$DEPLOYKIT_INPUT_NET_WORK" = "vpc-1" &&
test "$DEPLOYKIT_PHASE" = "configure" &&
test "$DEPLOYKIT_MODE" = "commit" &&
echo "configuring..." &&
echo '{"cost": 2}'`},
	})

	req := testRequest("app-config")
	req.ResourceID = "app-1"
	req.Inputs = map[string]string{"net.work": "vpc-1"}

	res, err := e.Configure(context.Background(), req)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if res.ResourceID != "app-1" || res.Cost != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestExecRequestOnStdin(t *testing.T) {
	e := newTestExec(map[string]Commands{"db": {Configure: "cat"}})

	req := testRequest("db")
	req.ResourceID = "db-9"
	res, err := e.Configure(context.Background(), req)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if res.ResourceID != "db-9" {
		t.Errorf("expected the echoed request to carry the resource ID, got %+v", res)
	}
}

func TestExecFailures(t *testing.T) {
	e := newTestExec(map[string]Commands{
		"fails":   {Create: "echo boom >&2; exit 3"},
		"noid":    {Create: "echo not json"},
		"cfgonly": {Configure: "true"},
	})
	ctx := context.Background()

	_, err := e.Create(ctx, testRequest("fails"))
	if err == nil || !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("expected exit status and stderr in error, got %v", err)
	}

	if _, err := e.Create(ctx, testRequest("noid")); err == nil || !strings.Contains(err.Error(), "resourceId") {
		t.Errorf("expected missing resourceId error, got %v", err)
	}

	if _, err := e.Create(ctx, testRequest("cfgonly")); err == nil {
		t.Error("expected error for a step without a create command")
	}
	if _, err := e.Configure(ctx, testRequest("unknown")); err == nil {
		t.Error("expected error for an unknown step")
	}
}

func TestExecCancellation(t *testing.T) {
	e := NewExec(ExecConfig{
		Commands:  map[string]Commands{"slow": {Create: "sleep 10"}},
		WaitDelay: time.Second,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Create(ctx, testRequest("slow"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("expected the command to be killed promptly")
	}
}

func TestEnvName(t *testing.T) {
	tests := map[string]string{
		"db":         "DB",
		"app-config": "APP_CONFIG",
		"net.work":   "NET_WORK",
		"v2_api":     "V2_API",
	}
	for in, want := range tests {
		if got := EnvName(in); got != want {
			t.Errorf("EnvName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name   string
		output string
		wantID string
		wantOK bool
	}{
		{"empty", "", "", false},
		{"whole output", `{"resourceId": "a"}`, "a", true},
		{"last line", "step 1\nstep 2\n{\"resourceId\": \"b\", \"cost\": 1}\n", "b", true},
		{"no json", "done\n", "", false},
		{"json not last", "{\"resourceId\": \"c\"}\ntrailing\n", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := parseResult(tt.output)
			if ok != tt.wantOK || res.ResourceID != tt.wantID {
				t.Errorf("parseResult() = %+v, %v; want %q, %v", res, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
