package scenario

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synbridge/pkg/models"
)

// Step statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// Issuer sends a command to the host and waits for its result.
type Issuer interface {
	Issue(ctx context.Context, cmd models.Command) (models.Result, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step      string         `json:"step"`
	Type      string         `json:"type"`
	CommandID string         `json:"command_id,omitempty"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Report is the outcome of a whole scenario.
type Report struct {
	Scenario  string        `json:"scenario"`
	Success   bool          `json:"success"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Steps     []StepResult  `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes scenarios through an Issuer.
type Runner struct {
	issuer  Issuer
	timeout time.Duration
	log     *zap.Logger
}

// NewRunner creates a runner. stepTimeout bounds steps that set no timeout.
func NewRunner(issuer Issuer, stepTimeout time.Duration, logger *zap.Logger) *Runner {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{issuer: issuer, timeout: stepTimeout, log: logger}
}

// Run executes sc step by step. It stops at the first failing step unless
// the scenario continues on failure; remaining steps are reported skipped.
func (r *Runner) Run(ctx context.Context, sc Scenario) Report {
	report := Report{Scenario: sc.Name, Success: true, StartedAt: time.Now()}
	r.log.Info("scenario started", zap.String("scenario", sc.Name), zap.Int("steps", len(sc.Steps)))

	stopped := false
	for i, step := range sc.Steps {
		if stopped || ctx.Err() != nil {
			report.Steps = append(report.Steps, StepResult{Step: step.label(i), Type: step.Type, Status: StatusSkipped})
			continue
		}

		res := r.runStep(ctx, i, step)
		report.Steps = append(report.Steps, res)
		if res.Status == StatusPassed {
			report.Passed++
		} else {
			report.Failed++
			report.Success = false
			stopped = !sc.ContinueOnFailure
		}

		if step.Wait > 0 && !stopped {
			select {
			case <-time.After(step.Wait):
			case <-ctx.Done():
			}
		}
	}

	report.Duration = time.Since(report.StartedAt)
	r.log.Info("scenario finished",
		zap.String("scenario", sc.Name),
		zap.Bool("success", report.Success),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.Duration),
	)
	return report
}

func (r *Runner) runStep(ctx context.Context, i int, step Step) StepResult {
	result := StepResult{Step: step.label(i), Type: step.Type, CommandID: uuid.NewString()}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := r.issuer.Issue(stepCtx, models.Command{ID: result.CommandID, Type: step.Type, Parameters: step.Parameters})
	result.Duration = time.Since(start)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = StatusTimeout
		result.Error = err.Error()
	case err != nil:
		result.Status = StatusError
		result.Error = err.Error()
	default:
		result.Message = res.Message
		result.Data = res.Data
		if res.Success == step.expectSuccess() {
			result.Status = StatusPassed
		} else {
			result.Status = StatusFailed
			result.Error = "unexpected outcome: " + res.Message
		}
	}

	r.log.Debug("step finished",
		zap.String("step", result.Step),
		zap.String("status", result.Status),
		zap.Duration("took", result.Duration),
	)
	return result
}
