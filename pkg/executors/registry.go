package executors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"synbridge/pkg/models"
)

// Func carries out one command. It should honour ctx cancellation.
type Func func(ctx context.Context, cmd models.Command) models.Result

// Info describes a registered command type.
type Info struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

type entry struct {
	fn   Func
	info Info
}

// Registry maps command types to executor functions. Each command runs on its
// own goroutine; the result is handed to the reply function exactly once.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry

	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry. timeout bounds each command; zero
// means no limit.
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]entry),
		timeout: timeout,
		log:     logger,
	}
}

// Register adds or replaces the executor for info.Name.
func (r *Registry) Register(info Info, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Name] = entry{fn: fn, info: info}
}

// Get returns the executor for commandType.
func (r *Registry) Get(commandType string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[commandType]
	return e.fn, ok
}

// List returns the registered command types in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos describes every registered command type, sorted by name.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Execute runs cmd in the background and calls reply with its result.
func (r *Registry) Execute(cmd models.Command, reply func(models.Result)) {
	fn, ok := r.Get(cmd.Type)
	if !ok {
		r.log.Warn("no executor registered", zap.String("command_type", cmd.Type))
		reply(models.Failed(cmd.ID, "No executor registered for command type: "+cmd.Type))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		reply(r.run(fn, cmd))
	}()
}

func (r *Registry) run(fn Func, cmd models.Command) (res models.Result) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("executor panicked", zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type), zap.Any("panic", p))
			res = models.Failed(cmd.ID, fmt.Sprintf("Executor for %s failed: %v", cmd.Type, p))
		}
	}()

	res = fn(ctx, cmd)
	if res.CommandID == "" {
		res.CommandID = cmd.ID
	}
	if ctx.Err() != nil && !res.Success {
		res.Message = fmt.Sprintf("%s timed out after %s", cmd.Type, r.timeout)
	}

	fields := []zap.Field{zap.String("command_id", cmd.ID), zap.String("command_type", cmd.Type), zap.Duration("took", time.Since(start))}
	if res.Success {
		r.log.Info("command completed", fields...)
	} else {
		r.log.Warn("command failed", append(fields, zap.String("message", res.Message))...)
	}
	return res
}

// Wait blocks until every running command has replied.
func (r *Registry) Wait() {
	r.wg.Wait()
}
