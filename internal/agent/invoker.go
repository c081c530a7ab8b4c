// Package agent turns a queued job into a prompt, runs the external agent
// executable, and turns its NDJSON event stream into a typed result.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/config"
	"github.com/Whamp/pi-brain/internal/queue"
)

// termGracePeriod bounds how long a timed-out agent gets between SIGTERM
// and SIGKILL.
const termGracePeriod = 15 * time.Second

// Invoker runs the external agent executable for one job at a time.
type Invoker struct {
	cfg    config.AgentConfig
	logger *zerolog.Logger
}

func NewInvoker(cfg config.AgentConfig, logger *zerolog.Logger) *Invoker {
	return &Invoker{cfg: cfg, logger: logger}
}

// Run invokes the agent for the job and returns a typed result. It never
// returns an error: every failure mode (spawn error, timeout, non-zero
// exit, protocol violation) is folded into the Result so the worker can
// classify it.
func (inv *Invoker) Run(ctx context.Context, job *queue.Job) Result {
	prompt := BuildPrompt(job)
	args := inv.buildArgs(prompt, job.SessionFile)

	inv.logger.Debug().
		Str("job_id", job.ID).
		Str("binary", inv.cfg.Binary).
		Strs("args", args[:len(args)-1]). // the prompt itself is noise
		Msg("Spawning agent")

	start := time.Now()

	cmd := exec.Command(inv.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		// No process ever existed; ENOENT and friends land here.
		return Result{
			Error:    fmt.Sprintf("spawn failed: %v", err),
			ExitCode: -1,
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeoutMinutes := inv.cfg.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 10
	}
	timer := time.NewTimer(time.Duration(timeoutMinutes) * time.Minute)
	defer timer.Stop()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		inv.terminate(cmd, done, &waitErr)
	case <-ctx.Done():
		// Daemon shutdown: treat like a timeout so the job is retried.
		timedOut = true
		inv.terminate(cmd, done, &waitErr)
	}

	duration := time.Since(start)
	raw := stdout.String()

	if timedOut {
		return Result{
			RawOutput: raw,
			Error:     fmt.Sprintf("agent timed out after %d minutes", timeoutMinutes),
			TimedOut:  true,
			ExitCode:  exitCode(waitErr),
			Duration:  duration,
		}
	}

	if waitErr != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = waitErr.Error()
		}
		return Result{
			RawOutput: raw,
			Error:     fmt.Sprintf("agent exited with code %d: %s", exitCode(waitErr), message),
			ExitCode:  exitCode(waitErr),
			Duration:  duration,
		}
	}

	node, err := ParseOutput(raw)
	if err != nil {
		return Result{
			RawOutput: raw,
			Error:     err.Error(),
			ExitCode:  0,
			Duration:  duration,
		}
	}

	return Result{
		Success:   true,
		RawOutput: raw,
		NodeData:  node,
		ExitCode:  0,
		Duration:  duration,
	}
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
func (inv *Invoker) terminate(cmd *exec.Cmd, done <-chan error, waitErr *error) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			inv.logger.Warn().Err(err).Msg("Failed to signal agent process")
		}
	}
	select {
	case *waitErr = <-done:
	case <-time.After(termGracePeriod):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		*waitErr = <-done
	}
}

// buildArgs assembles the agent argument vector. The prompt is always the
// final argument.
func (inv *Invoker) buildArgs(prompt, sessionFile string) []string {
	args := []string{
		"--provider", inv.cfg.Provider,
		"--model", inv.cfg.Model,
		"--system-prompt", inv.cfg.SystemPromptFile,
	}
	if skills := selectSkills(inv.cfg, sessionFile); len(skills) > 0 {
		args = append(args, "--skills", strings.Join(skills, ","))
	}
	args = append(args, "--no-session", "--mode", "json", "-p", prompt)
	return args
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
