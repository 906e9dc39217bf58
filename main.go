package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"asdmodel/config"
	"asdmodel/inference"
	"asdmodel/logging"
	"asdmodel/ml"
)

var (
	name    = "asdmodel"
	version = "v0.0.1-default"
	commit  = ""

	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file (optional, defaults are used without it)",
		EnvVars: []string{"ASD_CONFIG"},
	}

	artifactsFlag = &cli.StringFlag{
		Name:  "artifacts",
		Usage: "Directory holding the model artifacts (overrides artifacts.dir)",
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     name,
		Version:  fmt.Sprintf("%s - (commit: %s)", version, commit),
		Compiled: time.Now(),
		Usage:    "ASD screening score service",
		Flags: []cli.Flag{
			configFlag,
			artifactsFlag,
			debugFlag,
		},
		Commands: []*cli.Command{
			serveCmd,
			predictCmd,
			checkCmd,
		},
	}
}

// loadConfig applies command line overrides on top of the config file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if dir := c.String(artifactsFlag.Name); dir != "" {
		cfg.Artifacts.Dir = dir
	}
	if c.Bool(debugFlag.Name) {
		cfg.Log.Level = "debug"
	}
	if c.IsSet(portFlag.Name) {
		cfg.Http.Port = c.Int(portFlag.Name)
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.LogOptions())
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return logger.With(zap.String("service", name)), nil
}

// newService loads the artifacts and builds the scorer. Every artifact must
// be present and consistent, otherwise the process does not start.
func newService(cfg *config.Config, apiKey string, logger *zap.Logger) (*inference.Service, *ml.Bundle, error) {
	paths := cfg.ArtifactPaths()
	bundle, err := ml.LoadBundle(paths)
	if err != nil {
		return nil, nil, fmt.Errorf("load artifacts from %s: %w", paths.Dir, err)
	}
	logger.Info("artifacts loaded",
		zap.String("dir", paths.Dir),
		zap.Int("columns", len(bundle.Columns)),
		zap.Int("numeric", len(bundle.NumCols)),
		zap.Int("categorical", len(bundle.CatCols)),
	)

	svcConfig := inference.Config{
		APIKey:    apiKey,
		Pipeline:  cfg.PipelineOptions(),
		CacheSize: cfg.Cache.Size,
	}
	if cfg.Risk.IncludeLevel {
		bands := cfg.RiskBands()
		svcConfig.Bands = &bands
	}
	svc, err := inference.NewService(bundle, svcConfig, logger.Named("inference"))
	if err != nil {
		return nil, nil, err
	}
	return svc, bundle, nil
}
