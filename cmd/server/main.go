package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/Tyrowin/gorelay/internal/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "gorelay"
	app.Usage = "UDP broadcast chat relay"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug,d",
			Usage: "Enable debug output",
		},
		cli.StringFlag{
			Name:  "config,c",
			Usage: "Path to a TOML config file",
		},
		cli.StringFlag{
			Name:  "bind,b",
			Usage: "Address to bind",
			Value: "0.0.0.0",
		},
		cli.IntFlag{
			Name:  "port,p",
			Usage: "UDP port to listen on",
			Value: 9999,
		},
		cli.DurationFlag{
			Name:  "client-timeout",
			Usage: "Inactivity after which a client is forgotten",
		},
		cli.DurationFlag{
			Name:  "sweep-interval",
			Usage: "Interval between expiry sweeps",
		},
		cli.IntFlag{
			Name:  "max-workers,w",
			Usage: "Maximum concurrent datagram handlers (0 = unbounded)",
		},
		cli.StringFlag{
			Name:  "monitor,m",
			Usage: "Address for the HTTP/WebSocket monitor (disabled when empty)",
		},
		cli.StringSliceFlag{
			Name:  "allowed-origin",
			Usage: "Origin allowed to open monitor WebSockets (repeatable, * for any)",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		if errors.Is(err, server.ErrBind) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	setupLogging(log.StandardLogger(), c.Bool("debug"))

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, log.StandardLogger())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

func setupLogging(logger *log.Logger, debug bool) {
	logger.SetFormatter(&LineFormatter{})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
}

// loadConfig layers defaults, the config file, RELAY_* variables and flags.
func loadConfig(c *cli.Context) (*server.Config, error) {
	cfg := server.NewConfig()

	if path := c.String("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	if c.IsSet("bind") {
		cfg.BindAddress = c.String("bind")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("client-timeout") {
		cfg.ClientTimeout = c.Duration("client-timeout")
	}
	if c.IsSet("sweep-interval") {
		cfg.SweepInterval = c.Duration("sweep-interval")
	}
	if c.IsSet("max-workers") {
		cfg.MaxWorkers = c.Int("max-workers")
	}
	if c.IsSet("monitor") {
		cfg.MonitorAddr = c.String("monitor")
	}
	if c.IsSet("allowed-origin") {
		cfg.AllowedOrigins = c.StringSlice("allowed-origin")
	}

	return cfg, nil
}
