package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	qhttp "asdmodel/http"
	"asdmodel/ml"
)

var (
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (overrides http.port)",
		Value: 8000,
	}

	featuresFlag = &cli.StringFlag{
		Name:     "features",
		Aliases:  []string{"f"},
		Usage:    "JSON file with one record, either bare or wrapped in {\"features\": ...}",
		Required: true,
	}

	serveCmd = &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP scoring service",
		Action:  cmdServe,
		Flags: []cli.Flag{
			portFlag,
		},
	}

	predictCmd = &cli.Command{
		Name:   "predict",
		Usage:  "Score one record from a file without the HTTP layer",
		Action: cmdPredict,
		Flags: []cli.Flag{
			featuresFlag,
		},
	}

	checkCmd = &cli.Command{
		Name:   "check",
		Usage:  "Load and validate the model artifacts, then exit",
		Action: cmdCheck,
	}
)

func cmdServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	apiKey, err := cfg.APIKey()
	if err != nil {
		return err
	}
	svc, _, err := newService(cfg, apiKey, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Artifacts.Watch {
		watcher, err := ml.NewArtifactWatcher(cfg.ArtifactPaths(), logger.Named("artifacts"))
		if err != nil {
			return fmt.Errorf("watch artifacts: %w", err)
		}
		go watcher.Run(ctx)
	}

	server := qhttp.NewServer(qhttp.ServerConfig{
		Host:            cfg.Http.Host,
		Port:            cfg.Http.Port,
		Timeout:         cfg.Http.Timeout,
		ShutdownTimeout: cfg.Http.ShutdownTimeout,
		MaxBodyBytes:    cfg.Http.MaxBodyBytes,
	}, svc, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Stop(context.Background()); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("exiting")
	return nil
}

func cmdPredict(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	raw, err := readRecord(c.String(featuresFlag.Name))
	if err != nil {
		return err
	}
	svc, _, err := newService(cfg, "", logger)
	if err != nil {
		return err
	}
	result, err := svc.Score(c.Context, raw)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func cmdCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, bundle, err := newService(cfg, "", logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "artifacts ok: %d columns, %d numeric, %d categorical\n",
		len(bundle.Columns), len(bundle.NumCols), len(bundle.CatCols))
	return nil
}

// readRecord accepts the /predict body shape or a bare feature map.
func readRecord(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if payload == nil {
		return nil, errors.New("record must be a JSON object")
	}
	if wrapped, ok := payload["features"]; ok {
		features, ok := wrapped.(map[string]any)
		if !ok {
			return nil, errors.New("features must be a JSON object")
		}
		return features, nil
	}
	return payload, nil
}
