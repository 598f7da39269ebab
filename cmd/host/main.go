package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"synbridge/cmd"
	"synbridge/pkg/api"
	"synbridge/pkg/bridge"
	"synbridge/pkg/connection"
	"synbridge/pkg/executors"
	"synbridge/pkg/host"
	"synbridge/pkg/mqtt"
	"synbridge/pkg/router"
	"synbridge/pkg/scenario"
	"synbridge/pkg/validator"
)

var flags cmd.Flags

func main() {
	root := &cobra.Command{
		Use:           "host",
		Short:         "Command bridge host",
		Long:          "Connects to the companion, validates and executes its commands, and exposes an HTTP control API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.Bind(root)

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the host loop",
		RunE:  runHost,
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate [scenario files...]",
		Short: "Check the configuration and any scenario files against it",
		RunE:  runValidate,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runHost(_ *cobra.Command, _ []string) error {
	rt, err := flags.Bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := cmd.SignalContext()
	defer stop()
	return serve(ctx, rt)
}

// serve 启动 host 主循环和API服务器
func serve(ctx context.Context, rt *cmd.Runtime) error {
	cfg := rt.Config
	log := rt.Logger.Logger

	b := bridge.New()
	conn := connection.NewManager(cfg.ConnectionConfig(), dialer(rt), b,
		connection.WithLogger(rt.Named("connection")))
	v := validator.New(cfg.ValidatorOptions(), validator.WithLogger(rt.Named("validator")))

	registry := executors.NewRegistry(cfg.Host.ExecutorTimeout, rt.Named("executors"))
	executors.RegisterBuiltins(registry, executors.DemoScene())

	r := router.New(conn, v, registry, b,
		router.WithLogger(rt.Named("router")),
		router.WithPingInterval(cfg.Connection.PingInterval))
	r.Subscribe(router.Handlers{
		OnConnected:    func() { log.Info("connected to companion") },
		OnDisconnected: func(reason string) { log.Info("companion connection closed", zap.String("reason", reason)) },
		OnError:        func(message string) { log.Warn("companion connection error", zap.String("message", message)) },
		OnAck:          func(message string) { log.Info("companion ack", zap.String("message", message)) },
	})

	loop := host.NewLoop(r, cfg.TickInterval(), rt.Named("host"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })

	if cfg.API.Enabled {
		caps := func() ([]string, []string) { return v.AllowedCommands(), registry.List() }
		srv := api.NewServer(r, loop, caps, rt.Named("api"))
		g.Go(func() error { return srv.Run(ctx, cfg.API.Listen) })
	}

	if cfg.Connection.AutoConnect {
		g.Go(func() error {
			select {
			case <-loop.Started():
			case <-ctx.Done():
				return nil
			}
			err := loop.Do(ctx, func() { r.Connect() })
			if errors.Is(err, context.Canceled) || errors.Is(err, host.ErrStopped) {
				return nil
			}
			return err
		})
	}

	log.Info("host started",
		zap.String("transport", cfg.Server.Transport),
		zap.String("companion", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Int("executors", len(registry.List())),
	)

	err := g.Wait()
	if cerr := r.Close(); cerr != nil && !errors.Is(cerr, router.ErrClosed) {
		log.Warn("close router", zap.Error(cerr))
	}
	registry.Wait()
	log.Info("host stopped")
	return err
}

// dialer 根据配置选择 websocket 或 MQTT 传输
func dialer(rt *cmd.Runtime) connection.Dialer {
	cfg := rt.Config
	if cfg.Server.Transport == "mqtt" {
		return mqtt.NewDialer(cfg.MQTTConfig(), rt.Named("mqtt"))
	}

	d := connection.NewWebsocketDialer(cfg.Server.Host, cfg.Server.Port, cfg.Server.Path)
	if signer := rt.Signer(); signer != nil {
		d.TokenSource = func() (string, error) { return signer.Token("host") }
	}
	return d
}

func runValidate(c *cobra.Command, args []string) error {
	rt, err := flags.Bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()

	out := c.OutOrStdout()
	allowed := validator.New(rt.Config.ValidatorOptions()).AllowedCommands()
	fmt.Fprintf(out, "config ok: transport=%s, %d allowed command types\n", rt.Config.Server.Transport, len(allowed))

	var failed bool
	for _, path := range args {
		scenarios, err := scenario.Load(path)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed = true
			continue
		}
		for _, sc := range scenarios {
			if err := sc.Validate(allowed); err != nil {
				fmt.Fprintf(out, "%s: %s: %v\n", path, sc.Name, err)
				failed = true
				continue
			}
			fmt.Fprintf(out, "%s: %s ok (%d steps)\n", path, sc.Name, len(sc.Steps))
		}
	}
	if failed {
		return errors.New("validation failed")
	}
	return nil
}
