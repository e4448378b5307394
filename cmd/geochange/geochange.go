package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/geochange/server"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("geochange", "Change detection and anomaly geolocation service for before/after imagery")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "geochange.json"})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary", Default: false})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Override the listen address in the config file (eg :8081)", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configFilePath)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	cfg.HotReloadWWW = *hotReloadWWW
	if *listen != "" {
		cfg.Listen = *listen
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	s, err := server.NewServerFromConfig(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
