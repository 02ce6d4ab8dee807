package cmd

import (
	"fmt"
	"os"

	"github.com/fzft/go-echo-poll/config"
	"github.com/fzft/go-echo-poll/log"
	"github.com/fzft/go-echo-poll/node"
	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// flag name -> config key
var serverFlagKeys = map[string]string{
	"addr":         config.KeyAddr,
	"max-events":   config.KeyMaxEvents,
	"read-buffer":  config.KeyReadBufferSize,
	"max-output":   config.KeyMaxOutputBuffer,
	"idle-timeout": config.KeyIdleTimeout,
	"metrics-addr": config.KeyMetricsAddr,
	"log-level":    config.KeyLogLevel,
}

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   config.DefaultConfigPath,
			Usage:   "path of the yaml config file.",
			EnvVars: []string{config.EnvPrefix + "_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "bind address, host:port.",
		},
		&cli.IntFlag{
			Name:  "max-events",
			Usage: "max events returned by one poll.",
		},
		&cli.IntFlag{
			Name:  "read-buffer",
			Usage: "size of the read scratch buffer in bytes.",
		},
		&cli.IntFlag{
			Name:  "max-output",
			Usage: "max bytes buffered per connection before reading pauses, 0 for unlimited.",
		},
		&cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "close connections idle for this long, 0 disables.",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve prometheus metrics on host:port.",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error.",
		},
	}
}

type Wrapper struct {
	app *cli.App
}

func NewWrapper(version string) *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    "echopoll",
			Usage:   "a single threaded epoll tcp echo server",
			Version: version,
		},
	}
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withCommands()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = serverFlags()
}

func (wrapper *Wrapper) withAction() {
	wrapper.app.Action = serve
}

func (wrapper *Wrapper) withCommands() {
	wrapper.app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "run the echo server (default)",
			Flags:  serverFlags(),
			Action: serve,
		},
		{
			Name:  "client",
			Usage: "interactive client, every line is echoed back",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: "127.0.0.1:9000", Usage: "server address."},
			},
			Action: func(ctx *cli.Context) error {
				return repl(NewEchoClient(ctx.String("addr")), os.Stdout)
			},
		},
		{
			Name:  "bench",
			Usage: "run concurrent clients and verify every echoed byte",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: "127.0.0.1:9000", Usage: "server address."},
				&cli.IntFlag{Name: "clients", Value: 50, Usage: "concurrent connections."},
				&cli.IntFlag{Name: "requests", Value: 1000, Usage: "round trips per connection."},
				&cli.IntFlag{Name: "size", Value: 512, Usage: "payload size in bytes."},
				&cli.IntFlag{Name: "pool", Usage: "worker pool size, defaults to clients."},
			},
			Action: bench,
		},
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	v := config.New()
	if err := config.ReadFile(v, ctx.String("config"), ctx.IsSet("config")); err != nil {
		return nil, err
	}
	for name, key := range serverFlagKeys {
		if ctx.IsSet(name) {
			v.Set(key, ctx.Value(name))
		}
	}
	return config.Load(v)
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := log.InitLogger(cfg.LogLevel, cfg.LogTimeZone); err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer log.Sync()
	log.Logger.Debug("effective config", zap.String("config", render.Render(cfg)))

	srv := node.NewServer(cfg.Addr, node.Options{
		MaxEvents:       cfg.MaxEvents,
		ReadBufferSize:  cfg.ReadBufferSize,
		MaxOutputBuffer: cfg.MaxOutputBuffer,
		IdleTimeout:     cfg.IdleTimeout,
	})
	srv.SetMetricsAddr(cfg.MetricsAddr)
	return srv.Run()
}

func bench(ctx *cli.Context) error {
	res, err := RunBench(BenchOptions{
		Addr:        ctx.String("addr"),
		Clients:     ctx.Int("clients"),
		Requests:    ctx.Int("requests"),
		PayloadSize: ctx.Int("size"),
		PoolSize:    ctx.Int("pool"),
	})
	if err != nil {
		return err
	}

	out := ctx.App.Writer
	fmt.Fprintf(out, "round trips: %d\n", res.RoundTrips)
	fmt.Fprintf(out, "failures:    %d\n", res.Failures)
	fmt.Fprintf(out, "mismatches:  %d\n", res.Mismatches)
	fmt.Fprintf(out, "elapsed:     %s\n", res.Elapsed)
	if secs := res.Elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(out, "throughput:  %.0f req/s, %.2f MB/s\n", float64(res.RoundTrips)/secs, float64(res.Bytes)/secs/(1<<20))
	}
	if res.Failures > 0 || res.Mismatches > 0 {
		return cli.Exit("bench finished with errors", 1)
	}
	return nil
}
