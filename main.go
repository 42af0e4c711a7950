package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/shzored/mediabot/internal"
	"github.com/shzored/mediabot/pkg/logger"
)

var log = logger.Get("Main")

func main() {
	godotenv.Load()

	defaultConfigPath := ".config/mediabot/config.yaml"
	if home, err := homedir.Dir(); err == nil {
		defaultConfigPath = filepath.Join(home, defaultConfigPath)
	}

	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	config := internal.Config{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v\n", err)
		return
	}

	app, err := internal.New(config)
	if err != nil {
		log.Fatalf("Failed to initialise: %v\n", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Fatal error: %v\n", err)
	}
}
