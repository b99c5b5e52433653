// Package etl holds the engine core shared by every protocol: the run
// context, the failure taxonomy, the run state machine, surrogate and lookup
// resolution, and the cross-cutting transforms (observers, multi-selects,
// count stacking, nest seeding).
package etl

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/hazyhaar/fieldetl/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultOtherToken is the observer code meaning "see the free-text field".
const DefaultOtherToken = "389"

// Config is the engine configuration a run is parameterized by.
type Config struct {
	Protocol   string
	BackendDB  string
	FrontendDB string
	Year       int
	User       string
	OutputDir  string
	// OtherToken is the multi-select code that defers to a free-text column.
	OtherToken string
}

// Env is threaded through every transform of a run.
type Env struct {
	Config  Config
	Log     *zap.Logger
	Metrics *metrics.Recorder
	Loader  *loader.Loader
	RunID   string
	// Now is the run clock; it stamps audit columns and QC notes.
	Now func() time.Time
}

// NewEnv fills defaults for the clock, run id, logger and other token.
func NewEnv(cfg Config, log *zap.Logger, ld *loader.Loader, rec *metrics.Recorder) *Env {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.OtherToken == "" {
		cfg.OtherToken = DefaultOtherToken
	}
	if ld == nil {
		ld = loader.New(cfg.BackendDB, log, rec)
	}
	return &Env{
		Config:  cfg,
		Log:     log,
		Metrics: rec,
		Loader:  ld,
		RunID:   uuid.NewString(),
		Now:     time.Now,
	}
}

// Timestamp returns the run clock truncated to seconds.
func (e *Env) Timestamp() time.Time {
	return e.Now().Truncate(time.Second)
}

// WriteSideFile writes f to the output directory under name and returns the
// path written.
func (e *Env) WriteSideFile(name string, f *frame.Frame) (string, error) {
	dir := e.Config.OutputDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}
	if err := f.WriteCSV(path); err != nil {
		return "", errors.Wrapf(err, "write %s", name)
	}
	e.Log.Warn("wrote side file", zap.String("path", path), zap.Int("rows", f.Len()))
	return path, nil
}

// Processing-level audit columns stamped on every new row.
const (
	ColProcessingLevelID   = "ProcessingLevelID"
	ColProcessingLevelDate = "ProcessingLevelDate"
	ColProcessingLevelUser = "ProcessingLevelUser"

	DefaultProcessingLevel = int64(1)
)

// StampProcessingLevel adds the processing-level triple to f.
func (e *Env) StampProcessingLevel(f *frame.Frame) *frame.Frame {
	return f.WithConst(ColProcessingLevelID, DefaultProcessingLevel).
		WithConst(ColProcessingLevelDate, e.Timestamp()).
		WithConst(ColProcessingLevelUser, e.Config.User)
}
