package main

import (
	"os"
	"os/signal"
	"syscall"

	"variations/config"
	"variations/internal/mediator"

	"github.com/TypeTerrors/gonfig"
	"github.com/charmbracelet/log"
)

func main() {

	cfg, err := gonfig.Load[config.Config](
		gonfig.WithConfigFile("config/config.yaml"),
		gonfig.WithDotenv(".env"), // ignored if missing
		gonfig.WithStrict(),       // fail if ${VAR} has no value/default
	)
	if err != nil {
		log.Fatal("load config", "err", err)
	}

	app, err := mediator.NewApp(cfg)
	if err != nil {
		log.Fatal("create app", "err", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := app.Start(); err != nil {
			log.Fatal("api stopped", "err", err)
		}
	}()

	<-stop
	log.Info("shutting down")
	app.Shutdown()
}
