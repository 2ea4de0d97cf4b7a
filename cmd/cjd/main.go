package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/cjd/internal/config"
	grpcservice "github.com/arkade-os/cjd/internal/interface/grpc"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

func mainAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	svcConfig := grpcservice.Config{
		Datadir:     cfg.Datadir,
		Port:        cfg.Port,
		AdminPort:   cfg.AdminPort,
		NoTLS:       cfg.NoTLS,
		EnablePprof: cfg.EnablePprof,
	}

	svc, err := grpcservice.NewService(Version, svcConfig, cfg)
	if err != nil {
		return err
	}

	log.Infof("cjd config: %s", cfg)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	log.RegisterExitHandler(svc.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)

	return nil
}

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "cjd"
	app.Usage = "run or manage the coinjoin coordinator"
	app.UsageText = "Run the coinjoin coordinator with:\n\tcjd\nManage it with:\n\tcjd [global options] command [command options]"
	app.Commands = append(
		app.Commands,
		offendersCmd,
		roundsCmd,
		roundCmd,
		txCmd,
	)
	app.Action = mainAction
	app.Flags = append(app.Flags, config.Flags...)

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
