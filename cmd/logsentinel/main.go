// logsentinel classifies log events against a baseline learned from history
// and groups anomalies into scored incidents.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/setevik/logsentinel/internal/classifier"
	"github.com/setevik/logsentinel/internal/config"
	"github.com/setevik/logsentinel/internal/logging"
	"github.com/setevik/logsentinel/internal/model"
	"github.com/setevik/logsentinel/internal/service"
	"github.com/setevik/logsentinel/internal/store"
)

var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	cfg       *config.Config
	logCloser io.Closer
}

func main() {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	serve := newServeCmd(a)

	cmd := &cobra.Command{
		Use:           "logsentinel",
		Short:         "Log anomaly classifier and incident aggregator",
		Long:          "logsentinel learns a baseline of normal log templates from history, classifies live events against it and groups anomalies into scored, suppressible incidents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default "+config.DefaultPath()+")")
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	cmd.AddCommand(
		serve,
		newTrainCmd(a),
		newDetectCmd(a),
		newClassifyCmd(a),
		newInjectCmd(a),
		newQueryCmd(a),
		newIncidentsCmd(a),
		newDigestCmd(a),
		newStatusCmd(a),
		newTestNtfyCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// load reads and validates the configuration and installs logging. CLI
// commands pass quiet to keep their output free of info logs.
func (a *app) load(quiet bool) (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if quiet {
		slog.SetDefault(logging.New(a.stderr, slog.LevelWarn))
	} else {
		a.logCloser = logging.Setup(cfg.Log)
	}
	for _, w := range cfg.Warnings() {
		slog.Warn("configuration warning", "detail", w)
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// classifier loads the frozen model. A missing or inconsistent model is
// fatal for every online command.
func (a *app) classifier(cfg *config.Config) (*classifier.Classifier, *model.Loaded, error) {
	m, err := model.Load(cfg.ModelPath())
	if err != nil {
		if errors.Is(err, model.ErrModelUnavailable) {
			return nil, nil, fmt.Errorf("%w (run `logsentinel train` first)", err)
		}
		return nil, nil, err
	}
	cls, err := classifier.New(m.Embedder, m.Baseline, cfg.Classifier.Threshold,
		classifier.WithCacheSize(cfg.Classifier.CacheSize))
	if err != nil {
		return nil, nil, err
	}
	return cls, m, nil
}

func (a *app) service(cfg *config.Config, db *store.DB) (*service.Service, error) {
	cls, _, err := a.classifier(cfg)
	if err != nil {
		return nil, err
	}
	return service.New(cls, db, service.Options{
		Aggregate: cfg.AggregateParams(),
		Suppress:  cfg.Suppressor(),
		Lookback:  cfg.Incident.Lookback.Duration,
	}), nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(a.stdout, "logsentinel", version)
		},
	}
}
