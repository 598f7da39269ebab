package validator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"synbridge/pkg/models"
)

// RejectCode names the category of a rejection. Statistics are keyed by it.
type RejectCode string

const (
	CodeNullCommand       RejectCode = "null_command"
	CodeMissingID         RejectCode = "missing_id"
	CodeIDTooLong         RejectCode = "id_too_long"
	CodeMissingType       RejectCode = "missing_type"
	CodeDisallowedType    RejectCode = "disallowed_type"
	CodeRateLimited       RejectCode = "rate_limited"
	CodeMissingParameters RejectCode = "missing_parameters"
	CodeInvalidParameter  RejectCode = "invalid_parameter"
	CodeUnsafeContent     RejectCode = "unsafe_content"
)

// Outcome is the verdict for a single command.
type Outcome struct {
	Valid  bool
	Reason string
	Code   RejectCode
	// RetryAfter is set on rate-limit rejections.
	RetryAfter time.Duration
}

// Stats aggregates validation counters.
type Stats struct {
	TotalValidated int64          `json:"total_validated"`
	TotalRejected  int64          `json:"total_rejected"`
	RejectionRate  float64        `json:"rejection_rate"`
	Reasons        map[string]int `json:"reasons"`
}

// Option customises a Validator.
type Option func(*Validator)

// WithClock replaces the time source used by the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger rejections are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.log = logger
		}
	}
}

// Validator gates inbound commands through the whitelist, the per-type rate
// limiter, the parameter rules and the content filter. It is safe for
// concurrent use.
type Validator struct {
	opts    Options
	allowed map[string]struct{}
	rules   map[string]check
	now     func() time.Time
	log     *zap.Logger

	windowsMu sync.Mutex
	windows   map[string]*rateWindow

	validated atomic.Int64
	rejected  atomic.Int64
	reasonsMu sync.Mutex
	reasons   map[RejectCode]int
}

// New creates a validator. Zero fields in opts take their defaults.
func New(opts Options, options ...Option) *Validator {
	opts = opts.normalized()

	v := &Validator{
		opts:    opts,
		allowed: make(map[string]struct{}, len(opts.AllowedCommands)),
		now:     time.Now,
		log:     zap.NewNop(),
		windows: make(map[string]*rateWindow),
		reasons: make(map[RejectCode]int),
	}
	for _, name := range opts.AllowedCommands {
		v.allowed[name] = struct{}{}
	}
	for _, o := range options {
		o(v)
	}
	v.rules = buildRules(opts)
	return v
}

// Validate checks cmd and returns the outcome. It never panics and always
// counts the call.
func (v *Validator) Validate(cmd *models.Command) Outcome {
	v.validated.Add(1)

	if cmd == nil {
		return v.reject(nil, CodeNullCommand, "Command is null")
	}
	if cmd.ID == "" {
		return v.reject(cmd, CodeMissingID, "Command ID is missing")
	}
	if utf8.RuneCountInString(cmd.ID) > v.opts.MaxCommandIDLength {
		return v.reject(cmd, CodeIDTooLong,
			fmt.Sprintf("Command ID too long (max %d characters)", v.opts.MaxCommandIDLength))
	}
	if cmd.Type == "" {
		return v.reject(cmd, CodeMissingType, "Command type is missing")
	}
	if !v.IsAllowed(cmd.Type) {
		return v.reject(cmd, CodeDisallowedType, "Unknown or disallowed command type: "+cmd.Type)
	}

	if ok, wait := v.window(cmd.Type).allow(v.now()); !ok {
		out := v.reject(cmd, CodeRateLimited,
			fmt.Sprintf("Rate limit exceeded for %s. Wait %.1fs", cmd.Type, wait.Seconds()))
		out.RetryAfter = wait
		return out
	}

	if cmd.Parameters == nil {
		if requiresParameters(cmd.Type) {
			return v.reject(cmd, CodeMissingParameters, fmt.Sprintf("Command %s requires parameters", cmd.Type))
		}
		return Outcome{Valid: true}
	}

	rule, ok := v.rules[cmd.Type]
	if !ok {
		rule = boundedStrings(v.opts.MaxStringLength)
	}
	if f := rule(cmd.Parameters); f != nil {
		return v.reject(cmd, f.code, f.reason)
	}
	return Outcome{Valid: true}
}

// IsAllowed reports whether commandType is in the whitelist.
func (v *Validator) IsAllowed(commandType string) bool {
	_, ok := v.allowed[commandType]
	return ok
}

// AllowedCommands returns the whitelist in sorted order.
func (v *Validator) AllowedCommands() []string {
	names := make([]string, 0, len(v.allowed))
	for name := range v.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RateLimit returns the configured requests per second for commandType.
func (v *Validator) RateLimit(commandType string) float64 {
	if limit, ok := v.opts.RateLimits[commandType]; ok && limit > 0 {
		return limit
	}
	return v.opts.DefaultRateLimit
}

// Stats returns a snapshot of the counters.
func (v *Validator) Stats() Stats {
	validated := v.validated.Load()
	rejected := v.rejected.Load()

	v.reasonsMu.Lock()
	reasons := make(map[string]int, len(v.reasons))
	for code, n := range v.reasons {
		reasons[string(code)] = n
	}
	v.reasonsMu.Unlock()

	var rate float64
	if validated > 0 {
		rate = float64(rejected) / float64(validated)
	}
	return Stats{
		TotalValidated: validated,
		TotalRejected:  rejected,
		RejectionRate:  rate,
		Reasons:        reasons,
	}
}

// ResetStats clears the counters. Rate windows are kept.
func (v *Validator) ResetStats() {
	v.validated.Store(0)
	v.rejected.Store(0)
	v.reasonsMu.Lock()
	v.reasons = make(map[RejectCode]int)
	v.reasonsMu.Unlock()
}

func (v *Validator) window(commandType string) *rateWindow {
	v.windowsMu.Lock()
	defer v.windowsMu.Unlock()
	w, ok := v.windows[commandType]
	if !ok {
		w = newRateWindow(v.RateLimit(commandType))
		v.windows[commandType] = w
	}
	return w
}

func (v *Validator) reject(cmd *models.Command, code RejectCode, reason string) Outcome {
	v.rejected.Add(1)
	v.reasonsMu.Lock()
	v.reasons[code]++
	v.reasonsMu.Unlock()

	fields := []zap.Field{zap.String("code", string(code)), zap.String("reason", reason)}
	if cmd != nil {
		fields = append(fields, zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type))
	}
	v.log.Warn("command rejected", fields...)

	return Outcome{Valid: false, Reason: reason, Code: code}
}
