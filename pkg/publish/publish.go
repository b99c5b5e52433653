// Package publish hands derived frames to the feature service. The
// file publisher stages the frame and its metadata for the uploader.
package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Metadata describes a published feature layer.
type Metadata struct {
	Title       string   `yaml:"title"`
	Tags        []string `yaml:"tags"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Snippet     string   `yaml:"snippet"`
	LicenseInfo string   `yaml:"license_info"`
	// X and Y name the coordinate columns of the frame.
	X string `yaml:"x_field"`
	Y string `yaml:"y_field"`
}

// Publisher publishes a frame with spatial columns as a feature layer.
type Publisher interface {
	Publish(ctx context.Context, f *frame.Frame, md Metadata) error
}

// FilePublisher writes <Dir>/<title>.csv and <Dir>/<title>.yaml.
type FilePublisher struct {
	Dir string
	Log *zap.Logger
}

// Publish validates the metadata and writes both files.
func (p *FilePublisher) Publish(ctx context.Context, f *frame.Frame, md Metadata) error {
	if strings.TrimSpace(md.Title) == "" {
		return errors.New("publish: title is required")
	}
	if md.X != "" || md.Y != "" {
		if err := f.Require(md.X, md.Y); err != nil {
			return errors.Wrap(err, "publish: coordinates")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", p.Dir)
	}
	base := filepath.Join(p.Dir, fileName(md.Title))
	if err := f.WriteCSV(base + ".csv"); err != nil {
		return errors.Wrap(err, "publish: write features")
	}
	data, err := yaml.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "publish: marshal metadata")
	}
	if err := os.WriteFile(base+".yaml", data, 0o644); err != nil {
		return errors.Wrap(err, "publish: write metadata")
	}
	if p.Log != nil {
		p.Log.Info("features staged", zap.String("title", md.Title), zap.Int("rows", f.Len()), zap.String("path", base+".csv"))
	}
	return nil
}

func fileName(title string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
}
