// Package logsink builds the per-run logger: every entry goes to the run log
// file, to the process-wide error log and to the console.
package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrorLogName is the process-wide log shared by every run.
const ErrorLogName = "ETL_ErrorLog.txt"

// Options locate and label the run log.
type Options struct {
	OutputDir string
	Protocol  string
	Year      int
	RunID     string
	Now       time.Time
	// Console receives a copy of every entry; nil means stderr.
	Console io.Writer
}

// Sink owns the log files behind a run logger.
type Sink struct {
	*zap.Logger
	RunLogPath   string
	ErrorLogPath string
	files        []*os.File
}

// RunLogName is <protocol>_<year>_<date>_logFile_<date>.txt.
func RunLogName(protocol string, year int, now time.Time) string {
	d := now.Format("20060102")
	return fmt.Sprintf("%s_%d_%s_logFile_%s.txt", protocol, year, d, d)
}

// WorkspaceDir is the directory holding logs and metrics for a run.
func WorkspaceDir(outputDir string) string {
	return filepath.Join(outputDir, "workspace")
}

// Open creates the workspace directory and both log files.
func Open(opts Options) (*Sink, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	ws := WorkspaceDir(opts.OutputDir)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return nil, errors.Wrap(err, "create workspace")
	}

	s := &Sink{
		RunLogPath:   filepath.Join(ws, RunLogName(opts.Protocol, opts.Year, opts.Now)),
		ErrorLogPath: filepath.Join(ws, ErrorLogName),
	}
	runFile, err := os.OpenFile(s.RunLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open run log")
	}
	errFile, err := os.OpenFile(s.ErrorLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		runFile.Close()
		return nil, errors.Wrap(err, "open error log")
	}
	s.files = []*os.File{runFile, errFile}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(runFile), zapcore.InfoLevel),
		zapcore.NewCore(enc.Clone(), zapcore.AddSync(errFile), zapcore.InfoLevel),
		zapcore.NewCore(enc.Clone(), zapcore.AddSync(console), zapcore.InfoLevel),
	)
	s.Logger = zap.New(core).With(
		zap.String("run_id", opts.RunID),
		zap.String("protocol", opts.Protocol),
	)
	return s, nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " - "
	return cfg
}

// Close flushes the logger and closes both files.
func (s *Sink) Close() error {
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Critical logs msg at error level tagged as critical.
func Critical(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Error(msg, append(fields, zap.String("severity", "CRITICAL"))...)
}
