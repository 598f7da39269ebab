// Package cmd holds the bootstrap shared by the host and companion binaries.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"synbridge/pkg/auth"
	"synbridge/pkg/config"
	"synbridge/pkg/logging"
)

// Flags are the persistent flags every binary accepts.
type Flags struct {
	ConfigPath string
	LogLevel   string
}

// Bind registers the flags on root.
func (f *Flags) Bind(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&f.ConfigPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&f.LogLevel, "log-level", "", "override logging.level")
}

// Runtime is the loaded configuration and root logger.
type Runtime struct {
	Config *config.Config
	Logger *logging.Logger
}

// Bootstrap loads the configuration and builds the logger.
func (f *Flags) Bootstrap() (*Runtime, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return &Runtime{Config: cfg, Logger: logger}, nil
}

// Close flushes the logger.
func (rt *Runtime) Close() {
	_ = rt.Logger.Close()
}

// Named returns a child logger for a component.
func (rt *Runtime) Named(component string) *zap.Logger {
	return rt.Logger.Named(component)
}

// Signer returns the handshake signer, or nil when no secret is configured.
func (rt *Runtime) Signer() *auth.Signer {
	a := rt.Config.Auth
	if a.Secret == "" {
		return nil
	}
	return auth.NewSigner(a.Secret, a.Issuer, a.TTL)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// PrintJSON writes v indented to w.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
