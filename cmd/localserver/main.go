// Command localserver is the CLI entry point: it loads a YAML
// configuration file and runs the reactor until a termination signal
// arrives.
//
// Flag parsing and the root-command shape are grounded on
// docker-compose's ecs/cmd/commands NewRootCmd (cobra root command,
// persistent flags, RunE delegating to the real work); the
// SIGTERM/SIGINT handling and --debug-gated logrus level are grounded
// on containerd/daemon.go's startSignalHandler and --debug Action.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/reactor"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "localserver",
		Short: "a single-threaded, epoll-driven HTTP/1.1 web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return serve(configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "localserver.yaml", "path to the YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		var be *reactor.BindError
		if errors.As(err, &be) {
			logrus.WithField("error", err).Error("localserver: bind failed")
			return 2
		}
		logrus.WithField("error", err).Error("localserver: exiting")
		return 1
	}
	return 0
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-sigCh
		logrus.WithField("signal", s.String()).Info("localserver: shutting down")
		cancel()
	}()
	defer signal.Stop(sigCh)

	return reactor.Run(ctx, cfg)
}
