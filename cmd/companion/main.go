package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"synbridge/cmd"
	"synbridge/pkg/api"
	"synbridge/pkg/companion"
	"synbridge/pkg/models"
	"synbridge/pkg/scenario"
)

var (
	flags cmd.Flags

	listen       string
	path         string
	apiListen    string
	interactive  bool
	scriptPath   string
	scenarioName string
	stepTimeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "companion",
		Short:         "Companion endpoint for the command bridge host",
		Long:          "Accepts host connections, answers host commands and issues commands to the host interactively or from a scenario file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCompanion,
	}
	flags.Bind(root)
	root.Flags().StringVarP(&listen, "listen", "l", "", "websocket listen address (default :<server.port>)")
	root.Flags().StringVar(&path, "path", "", "websocket path (default server.path)")
	root.Flags().StringVar(&apiListen, "api", "", "control API listen address; empty disables it")
	root.Flags().BoolVarP(&interactive, "interactive", "i", false, "read commands from stdin")
	root.Flags().StringVarP(&scriptPath, "script", "s", "", "scenario file to run once a host connects")
	root.Flags().StringVar(&scenarioName, "scenario", "", "scenario name within --script (default first)")
	root.Flags().DurationVar(&stepTimeout, "step-timeout", 30*time.Second, "per-step timeout for scenarios and interactive commands")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCompanion(c *cobra.Command, _ []string) error {
	rt, err := flags.Bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	if path == "" {
		path = cfg.Server.Path
	}

	log := rt.Logger.Logger
	srv := companion.NewServer(companion.Options{
		Signer: rt.Signer(),
		Logger: rt.Named("companion"),
		OnResult: func(peer string, res models.Result) {
			log.Debug("result from host",
				zap.String("peer", peer),
				zap.String("command_id", res.CommandID),
				zap.Bool("success", res.Success),
				zap.String("message", res.Message))
		},
	})
	runner := scenario.NewRunner(srv, stepTimeout, rt.Named("scenario"))

	ctx, stop := cmd.SignalContext()
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.ListenAndServe(ctx, listen, path) })

	if apiListen != "" {
		control := api.NewCompanionServer(srv, runner, nil, rt.Named("api"))
		g.Go(func() error { return control.Run(ctx, apiListen) })
	}

	// foreground drivers end the process when they finish
	switch {
	case scriptPath != "":
		g.Go(func() error {
			defer stop()
			return runScript(ctx, c, srv, runner)
		})
	case interactive:
		g.Go(func() error {
			defer stop()
			return repl(ctx, c.InOrStdin(), c.OutOrStdout(), srv)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runScript(ctx context.Context, c *cobra.Command, srv *companion.Server, runner *scenario.Runner) error {
	scenarios, err := scenario.Load(scriptPath)
	if err != nil {
		return err
	}
	sc, err := scenario.Find(scenarios, scenarioName)
	if err != nil {
		return err
	}
	if err := sc.Validate(nil); err != nil {
		return err
	}

	fmt.Fprintf(c.OutOrStdout(), "waiting for a host to run %q...\n", sc.Name)
	if err := srv.WaitForPeer(ctx); err != nil {
		return err
	}

	report := runner.Run(ctx, sc)
	if err := cmd.PrintJSON(c.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("scenario %q failed: %d of %d steps", sc.Name, report.Failed, len(report.Steps))
	}
	return nil
}
