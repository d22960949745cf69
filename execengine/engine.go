// Package execengine runs a validated skill manifest's container lifecycle
// against testcontainers-go: build, mount, command, and output phases, per
// the state machine resolving -> pulling -> building -> running ->
// complete | failed | timed_out | build_failed.
package execengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"

	"github.com/enactprotocol/enact/errcode"
	"github.com/enactprotocol/enact/interp"
	"github.com/enactprotocol/enact/manifest"
)

// State is a value of the execution state machine.
type State string

const (
	StateResolving   State = "resolving"
	StatePulling     State = "pulling"
	StateBuilding    State = "building"
	StateRunning     State = "running"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
	StateTimedOut    State = "timed_out"
	StateBuildFailed State = "build_failed"
)

const defaultImage = "alpine:latest"
const defaultTimeout = 5 * time.Minute

// Request describes one execution of a manifest (or one of its scripts).
type Request struct {
	Manifest    *manifest.Manifest
	Inputs      map[string]interp.Input
	EnvOverride map[string]string
	Mounts      []Mount
	OutputPath  string
	Timeout     time.Duration
}

// Mount binds a caller-supplied host path into the container under /input
// (unnamed) or /inputs/<name> (named).
type Mount struct {
	Name     string
	HostPath string
	Kind     string // "file" or "directory"
}

// Output is the captured result of the command phase.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Parsed   any
}

// Metadata accompanies every Result.
type Metadata struct {
	ToolName      string
	ToolVersion   string
	ContainerImage string
	StartTime     time.Time
	EndTime       time.Time
	DurationMs    int64
	Cached        bool
	ExecutionID   string
}

// Result is the outcome of one Run call.
type Result struct {
	Success  bool
	State    State
	Output   Output
	Metadata Metadata
	Err      *errcode.Error
}

// Engine executes manifests in containers and tracks rolling health.
type Engine struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastSuccess         time.Time
	lastError           *errcode.Error
}

// New creates an Engine.
func New() *Engine {
	return &Engine{}
}

// Health is the snapshot returned by Engine.Health.
type Health struct {
	Healthy             bool
	Runtime             string
	LastSuccess         *time.Time
	ConsecutiveFailures int
	Error               string
}

// Health reports the engine's rolling execution health.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := Health{
		Healthy:             e.consecutiveFailures == 0,
		Runtime:             "docker",
		ConsecutiveFailures: e.consecutiveFailures,
	}
	if !e.lastSuccess.IsZero() {
		t := e.lastSuccess
		h.LastSuccess = &t
	}
	if e.lastError != nil {
		h.Error = e.lastError.Error()
	}
	return h
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.lastSuccess = time.Now()
	e.lastError = nil
}

func (e *Engine) recordFailure(err *errcode.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	e.lastError = err
}

// Run executes req's manifest end to end and returns a Result. Build time
// is excluded from req.Timeout (or the manifest's own timeout); only the
// command phase is bounded by it.
func (e *Engine) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	m := req.Manifest

	image := m.From
	if image == "" {
		image = defaultImage
	}

	meta := Metadata{
		ToolName:       m.Name,
		ToolVersion:    m.Version,
		ContainerImage: image,
		StartTime:      start,
		ExecutionID:    newExecutionID(),
	}

	env := buildEnv(m, req.EnvOverride)

	container, err := e.buildAndStart(ctx, image, m.Build, env)
	if err != nil {
		e.recordFailure(err)
		meta.EndTime = time.Now()
		meta.DurationMs = meta.EndTime.Sub(start).Milliseconds()
		return Result{State: errStateFor(err), Metadata: meta, Err: err}
	}
	defer container.Terminate(context.Background())

	if err := mountInputs(ctx, container, req.Mounts); err != nil {
		e.recordFailure(err)
		meta.EndTime = time.Now()
		meta.DurationMs = meta.EndTime.Sub(start).Milliseconds()
		return Result{State: StateFailed, Metadata: meta, Err: err}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = manifestTimeout(m.Timeout)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	validated, verr := validateInputs(m.InputSchema, req.Inputs)
	if verr != nil {
		e.recordFailure(verr)
		meta.EndTime = time.Now()
		meta.DurationMs = meta.EndTime.Sub(start).Milliseconds()
		return Result{State: StateFailed, Metadata: meta, Err: verr}
	}

	argv, ierr := buildCommand(m, validated)
	if ierr != nil {
		e.recordFailure(ierr)
		meta.EndTime = time.Now()
		meta.DurationMs = meta.EndTime.Sub(start).Milliseconds()
		return Result{State: StateFailed, Metadata: meta, Err: ierr}
	}

	output, runErr := execCommand(runCtx, container, argv)
	meta.EndTime = time.Now()
	meta.DurationMs = meta.EndTime.Sub(start).Milliseconds()

	if runErr != nil {
		e.recordFailure(runErr)
		state := StateFailed
		if runErr.Code == errcode.Timeout {
			state = StateTimedOut
		}
		return Result{State: state, Output: output, Metadata: meta, Err: runErr}
	}

	if req.OutputPath != "" {
		if err := exportOutput(ctx, container, req.OutputPath); err != nil {
			e.recordFailure(err)
			return Result{State: StateFailed, Output: output, Metadata: meta, Err: err}
		}
	}

	if m.OutputSchema != nil {
		output.Parsed = tryParse(output.Stdout)
	}

	e.recordSuccess()
	return Result{Success: true, State: StateComplete, Output: output, Metadata: meta}
}

func errStateFor(err *errcode.Error) State {
	if err.Code == errcode.BuildError {
		return StateBuildFailed
	}
	return StateFailed
}

func manifestTimeout(spec string) time.Duration {
	if spec == "" {
		return defaultTimeout
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return defaultTimeout
	}
	return d
}

func newExecutionID() string {
	return "exec-" + uuid.NewString()
}

func tryParse(stdout string) any {
	var v any
	if err := json.Unmarshal([]byte(stdout), &v); err != nil {
		return nil
	}
	return v
}

// buildAndStart pulls/builds the base image and runs each build step in
// sequence inside the started container, aborting with BUILD_ERROR on a
// non-zero exit. env is set on the container at creation time (spec §4.I),
// the one channel a value never passes through argv or a shell, so
// variables marked secret never appear on a command line or in a log.
func (e *Engine) buildAndStart(ctx context.Context, image string, buildSteps []string, env map[string]string) (testcontainers.Container, *errcode.Error) {
	req := testcontainers.ContainerRequest{
		Image:      image,
		Cmd:        []string{"sleep", "infinity"},
		Env:        env,
		WaitingFor: nil,
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, errcode.Newf(errcode.ContainerError, "starting container", map[string]any{"image": image, "error": err.Error()})
	}

	for i, step := range buildSteps {
		exitCode, reader, execErr := container.Exec(ctx, []string{"sh", "-c", step})
		stdout, stderr := drainExecOutput(reader)
		if execErr != nil {
			container.Terminate(context.Background())
			return nil, errcode.Newf(errcode.BuildError, "build step failed to execute", map[string]any{
				"stepIndex": i, "command": step, "error": execErr.Error(),
			})
		}
		if exitCode != 0 {
			container.Terminate(context.Background())
			return nil, errcode.Newf(errcode.BuildError, fmt.Sprintf("build step %d exited %d", i, exitCode), map[string]any{
				"stepIndex": i, "command": step, "exitCode": exitCode, "stdout": stdout, "stderr": stderr,
			})
		}
	}

	return container, nil
}

func mountInputs(ctx context.Context, container testcontainers.Container, mounts []Mount) *errcode.Error {
	for _, mnt := range mounts {
		dest := "/input"
		if mnt.Name != "" {
			dest = filepath.Join("/inputs", mnt.Name)
		}
		if err := container.CopyFileToContainer(ctx, mnt.HostPath, dest, 0o644); err != nil {
			return errcode.Newf(errcode.ContainerError, "mounting input", map[string]any{
				"name": mnt.Name, "hostPath": mnt.HostPath, "error": err.Error(),
			})
		}
	}
	return nil
}

// buildCommand resolves the manifest's command template against inputs,
// dispatching to string-form or array-form interpolation per §4.J. Env vars
// are not part of this: they're set on the container itself by
// buildAndStart, never interpolated into the command.
func buildCommand(m *manifest.Manifest, inputs map[string]interp.Input) ([]string, *errcode.Error) {
	if m.Command.IsArgv() {
		argv, err := interp.InterpolateArgv(m.Command.Argv, inputs)
		if err != nil {
			return nil, asEngineError(err)
		}
		return argv, nil
	}

	cmd, err := interp.InterpolateString(m.Command.String, inputs)
	if err != nil {
		return nil, asEngineError(err)
	}
	return []string{"sh", "-c", cmd}, nil
}

func asEngineError(err error) *errcode.Error {
	if e, ok := errcode.As(err); ok {
		return e
	}
	return errcode.Newf(errcode.CommandError, err.Error(), nil)
}

// buildEnv merges declared env-var defaults with caller overrides into the
// set of variables the container is started with. A secret variable's
// value never comes from the manifest -- a default committed to manifest
// source isn't secret -- so only overrides (the caller's actual secret
// material) populate it; a secret with no override is simply absent, never
// silently defaulted to a plaintext stand-in.
func buildEnv(m *manifest.Manifest, overrides map[string]string) map[string]string {
	merged := map[string]string{}
	for name, spec := range m.EnvVars {
		if spec.Default != "" && !spec.Secret {
			merged[name] = spec.Default
		}
	}
	for name, val := range overrides {
		merged[name] = val
	}
	return merged
}

func execCommand(ctx context.Context, container testcontainers.Container, argv []string) (Output, *errcode.Error) {
	exitCode, reader, err := container.Exec(ctx, argv)
	stdout, stderr := drainExecOutput(reader)

	if ctx.Err() == context.DeadlineExceeded {
		return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode},
			errcode.New(errcode.Timeout, "command exceeded timeout")
	}
	if err != nil {
		return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode},
			errcode.Newf(errcode.CommandError, "command execution failed", map[string]any{"error": err.Error()})
	}

	return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// drainExecOutput reads a testcontainers Exec multiplexed stream into a
// single combined buffer; the library does not separate stdout/stderr on
// this path, so both are reported under the same capture.
func drainExecOutput(reader io.Reader) (stdout, stderr string) {
	if reader == nil {
		return "", ""
	}
	var buf bytes.Buffer
	io.Copy(&buf, reader)
	return buf.String(), ""
}

func exportOutput(ctx context.Context, container testcontainers.Container, hostPath string) *errcode.Error {
	if err := container.CopyDirFromContainer(ctx, "/output", hostPath); err != nil {
		return errcode.Newf(errcode.ContainerError, "exporting output", map[string]any{"hostPath": hostPath, "error": err.Error()})
	}
	return nil
}
