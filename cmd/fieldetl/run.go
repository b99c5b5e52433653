package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hazyhaar/fieldetl/pkg/bundle"
	"github.com/hazyhaar/fieldetl/pkg/config"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/hazyhaar/fieldetl/pkg/logsink"
	"github.com/hazyhaar/fieldetl/pkg/metrics"
	"github.com/hazyhaar/fieldetl/pkg/protocols"
	"github.com/hazyhaar/fieldetl/pkg/publish"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRunCommand returns the command that runs one protocol end to end.
func NewRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	runCommand := &cobra.Command{
		Use:   "run",
		Short: "download or open a survey bundle and load it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runProtocol(cmd.Context(), cfg, stderr)
		},
	}
	config.Flags(runCommand.Flags())
	return runCommand
}

func init() {
	subcommandFns["run"] = NewRunCommand
}

// runProtocol runs one protocol and returns its terminal error after the
// logs are closed.
func runProtocol(ctx context.Context, cfg *config.Config, console io.Writer) error {
	runID := uuid.NewString()
	sink, err := logsink.Open(logsink.Options{
		OutputDir: cfg.OutputDir,
		Protocol:  cfg.Protocol,
		Year:      cfg.Year,
		RunID:     runID,
		Now:       time.Now(),
		Console:   console,
	})
	if err != nil {
		return err
	}
	defer sink.Close()
	log := sink.Logger
	workspace := logsink.WorkspaceDir(cfg.OutputDir)

	if cfg.TerminateConnections {
		for _, db := range []string{cfg.BackendDB, cfg.FrontendDB} {
			if db == "" {
				continue
			}
			if _, err := loader.TerminateConnections(db, log); err != nil {
				log.Warn("terminate connections failed", zap.String("db", db), zap.Error(err))
			}
		}
	}

	archive, err := fetchArchive(ctx, cfg, workspace, log)
	if err != nil {
		logsink.Critical(log, "run aborted", zap.String("class", string(etl.BundleRead)), zap.Error(err))
		return etl.Fail(etl.BundleRead, "fetch bundle", err)
	}

	rec := metrics.New(cfg.Protocol)
	env := etl.NewEnv(cfg.Engine(), log, nil, rec)
	env.RunID = runID

	var pub publish.Publisher
	if cfg.PublishDir != "" {
		pub = &publish.FilePublisher{Dir: cfg.PublishDir, Log: log}
	}

	runErr := protocols.RunArchive(ctx, env, archive, bundle.Options{Encoding: cfg.Encoding}, pub)

	prom := filepath.Join(workspace, fmt.Sprintf("fieldetl_%s.prom", cfg.Protocol))
	if err := rec.WriteTextfile(prom); err != nil {
		log.Warn("metrics textfile not written", zap.String("path", prom), zap.Error(err))
	}
	if runErr != nil {
		logsink.Critical(log, "run aborted", zap.String("class", string(etl.ClassOf(runErr))), zap.Error(runErr))
	}
	return runErr
}

// fetchArchive returns the local path of the run's bundle archive.
func fetchArchive(ctx context.Context, cfg *config.Config, workspace string, log *zap.Logger) (string, error) {
	name := protocols.BundleName(cfg.Protocol, cfg.Year)
	switch {
	case cfg.Download:
		exp := cfg.Exporter()
		exp.Log = log
		log.Info("downloading bundle", zap.String("object_id", cfg.ObjectID))
		return exp.Export(ctx, cfg.ObjectID, name, workspace)
	case bundle.IsS3URI(cfg.Archive):
		f, err := bundle.NewS3Fetcher(ctx, cfg.S3())
		if err != nil {
			return "", err
		}
		log.Info("fetching bundle", zap.String("uri", cfg.Archive))
		return f.Fetch(ctx, cfg.Archive, workspace)
	default:
		return cfg.Archive, nil
	}
}
