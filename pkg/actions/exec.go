package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

// Environment variables set for every command.
const (
	EnvStep        = "DEPLOYKIT_STEP"
	EnvPhase       = "DEPLOYKIT_PHASE"
	EnvEnvironment = "DEPLOYKIT_ENVIRONMENT"
	EnvScenario    = "DEPLOYKIT_SCENARIO"
	EnvMode        = "DEPLOYKIT_MODE"
	EnvResourceID  = "DEPLOYKIT_RESOURCE_ID"
	EnvInputPrefix = "DEPLOYKIT_INPUT_"
	EnvParamPrefix = "DEPLOYKIT_PARAM_"
)

// maxErrorOutput bounds the stderr tail included in errors.
const maxErrorOutput = 2048

// Commands holds the shell commands for one step.
type Commands struct {
	Create    string
	Configure string
}

// ExecConfig configures command execution.
type ExecConfig struct {
	// Shell runs each command as `<Shell> -c <command>`. Defaults to /bin/sh.
	Shell string

	// WorkDir is the working directory of every command.
	WorkDir string

	// Env is added to the inherited process environment.
	Env map[string]string

	// Commands maps step names to their commands.
	Commands map[string]Commands

	// WaitDelay bounds how long a cancelled command may keep its output
	// pipes open after being killed. Defaults to 5s.
	WaitDelay time.Duration
}

// Exec performs actions by running shell commands.
//
// The request is passed as environment variables and as JSON on stdin. A
// command reports its result by printing a JSON object such as
// {"resourceId": "vpc-0a1b", "cost": 3} on stdout; when other output
// precedes it, the last line is used. A non-zero exit status is a failure.
type Exec struct {
	cfg    ExecConfig
	logger *telemetry.Logger
}

// NewExec creates command-backed actions.
func NewExec(cfg ExecConfig, logger *telemetry.Logger) *Exec {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Exec{
		cfg:    cfg,
		logger: logger.NewComponentLogger("exec-actions"),
	}
}

// Create runs the step's create command. The command must report a resourceId.
func (e *Exec) Create(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error) {
	cmds, ok := e.cfg.Commands[req.Step]
	if !ok || cmds.Create == "" {
		return engine.ActionResult{}, fmt.Errorf("no create command configured for step %s", req.Step)
	}

	res, err := e.run(ctx, engine.PhaseCreate, cmds.Create, req)
	if err != nil {
		return engine.ActionResult{}, err
	}
	if res.ResourceID == "" {
		return engine.ActionResult{}, fmt.Errorf("create command for step %s did not report a resourceId", req.Step)
	}
	return res, nil
}

// Configure runs the step's configure command against req.ResourceID.
func (e *Exec) Configure(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error) {
	cmds, ok := e.cfg.Commands[req.Step]
	if !ok || cmds.Configure == "" {
		return engine.ActionResult{}, fmt.Errorf("no configure command configured for step %s", req.Step)
	}

	res, err := e.run(ctx, engine.PhaseConfigure, cmds.Configure, req)
	if err != nil {
		return engine.ActionResult{}, err
	}
	if res.ResourceID == "" {
		res.ResourceID = req.ResourceID
	}
	return res, nil
}

type commandResult struct {
	ResourceID string `json:"resourceId"`
	Cost       uint64 `json:"cost"`
}

type commandRequest struct {
	Step        string            `json:"step"`
	Phase       engine.Phase      `json:"phase"`
	ResourceID  string            `json:"resourceId,omitempty"`
	Inputs      map[string]string `json:"inputs"`
	Params      map[string]string `json:"params"`
	Environment string            `json:"environment"`
	Scenario    string            `json:"scenario"`
	Mode        string            `json:"mode"`
}

func (e *Exec) run(ctx context.Context, phase engine.Phase, command string, req engine.ActionRequest) (engine.ActionResult, error) {
	// Inside a run the context carries the run's step logger.
	logger := telemetry.FromContext(ctx)
	if logger == nil {
		logger = e.logger.WithStep(req.Step).WithField("phase", string(phase))
	}

	stdin, err := json.Marshal(commandRequest{
		Step:        req.Step,
		Phase:       phase,
		ResourceID:  req.ResourceID,
		Inputs:      nonNil(req.Inputs),
		Params:      nonNil(req.Params),
		Environment: req.Environment,
		Scenario:    req.Scenario,
		Mode:        string(req.Mode),
	})
	if err != nil {
		return engine.ActionResult{}, fmt.Errorf("failed to encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Shell, "-c", command)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = append(os.Environ(), e.environment(phase, req)...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = e.cfg.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("running %s", command)
	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return engine.ActionResult{}, fmt.Errorf("%s command for step %s interrupted: %w", phase, req.Step, ctx.Err())
		}
		logger.WithError(err).WithField("stderr", tail(stderr.String())).Debug("command failed")
		return engine.ActionResult{}, fmt.Errorf("%s command for step %s failed: %w%s", phase, req.Step, err, stderrSuffix(stderr.String()))
	}

	res, ok := parseResult(stdout.String())
	if !ok && strings.TrimSpace(stdout.String()) != "" {
		logger.Debug("command output has no JSON result")
	}

	logger.WithFields(map[string]interface{}{
		"duration":    duration.String(),
		"resource_id": res.ResourceID,
		"cost":        res.Cost,
	}).Debug("command completed")

	return engine.ActionResult{ResourceID: res.ResourceID, Cost: res.Cost}, nil
}

// environment returns the DEPLOYKIT_* variables for one command, sorted.
func (e *Exec) environment(phase engine.Phase, req engine.ActionRequest) []string {
	vars := map[string]string{
		EnvStep:        req.Step,
		EnvPhase:       string(phase),
		EnvEnvironment: req.Environment,
		EnvScenario:    req.Scenario,
		EnvMode:        string(req.Mode),
	}
	if req.ResourceID != "" {
		vars[EnvResourceID] = req.ResourceID
	}
	for k, v := range e.cfg.Env {
		vars[k] = v
	}
	for step, id := range req.Inputs {
		vars[EnvInputPrefix+EnvName(step)] = id
	}
	for k, v := range req.Params {
		vars[EnvParamPrefix+EnvName(k)] = v
	}

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// EnvName converts a step or param name to an environment variable suffix:
// upper case with every character outside [A-Z0-9] replaced by '_'.
func EnvName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// parseResult decodes the JSON result from command output, trying the whole
// output first and then its last non-empty line.
func parseResult(out string) (commandResult, bool) {
	var res commandResult
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return res, false
	}
	if err := json.Unmarshal([]byte(trimmed), &res); err == nil {
		return res, true
	}

	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if err := json.Unmarshal([]byte(last), &res); err == nil {
		return res, true
	}
	return commandResult{}, false
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorOutput {
		return "..." + s[len(s)-maxErrorOutput:]
	}
	return s
}

func stderrSuffix(stderr string) string {
	if t := tail(stderr); t != "" {
		return ": " + t
	}
	return ""
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
