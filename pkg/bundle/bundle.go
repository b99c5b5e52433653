// Package bundle unpacks a form-service export archive and reads every
// tabular file in it into a frame keyed by file stem.
package bundle

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
)

// ErrUnknownExtension is returned for archive members that are neither CSV
// nor XLSX.
var ErrUnknownExtension = errors.New("unknown file extension")

// ErrNoMatch is returned by Find when no key contains the fragment.
var ErrNoMatch = errors.New("no bundle entry")

// Options tunes Ingest.
type Options struct {
	// Encoding is the CSV text encoding; empty means UTF-8.
	Encoding string
}

// Bundle maps file stems to frames. It is read-only once built.
type Bundle struct {
	Dir    string
	frames map[string]*frame.Frame
}

// New wraps an existing stem→frame mapping.
func New(frames map[string]*frame.Frame) *Bundle {
	b := &Bundle{frames: make(map[string]*frame.Frame, len(frames))}
	for k, v := range frames {
		b.frames[k] = v
	}
	return b
}

// Names returns the keys in sorted order.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.frames))
	for k := range b.frames {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Get returns the frame stored under name.
func (b *Bundle) Get(name string) (*frame.Frame, bool) {
	f, ok := b.frames[name]
	return f, ok
}

// Find returns the first key (in sorted order) containing fragment. An
// exact key match wins over substring matches.
func (b *Bundle) Find(fragment string) (string, *frame.Frame, error) {
	if f, ok := b.frames[fragment]; ok {
		return fragment, f, nil
	}
	for _, k := range b.Names() {
		if strings.Contains(k, fragment) {
			return k, b.frames[k], nil
		}
	}
	return "", nil, errors.Wrapf(ErrNoMatch, "no key contains %q", fragment)
}

// Ingest extracts archive into workDir/name and reads every extracted file.
// Existing files in the target directory are overwritten.
func Ingest(archive, name, workDir string, opts Options) (*Bundle, error) {
	dest := filepath.Join(workDir, name)
	if err := ensureDir(dest); err != nil {
		return nil, errors.Wrapf(err, "create %s", dest)
	}
	paths, err := unzipFile(archive, dest)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Dir: dest, frames: make(map[string]*frame.Frame, len(paths))}
	for _, p := range paths {
		stem := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		var f *frame.Frame
		switch strings.ToLower(filepath.Ext(p)) {
		case ".csv":
			f, err = frame.ReadCSV(p, frame.CSVOptions{Encoding: opts.Encoding})
		case ".xlsx":
			f, err = frame.ReadXLSX(p)
		default:
			return nil, errors.Wrapf(ErrUnknownExtension, "%s", filepath.Base(p))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", filepath.Base(p))
		}
		b.frames[stem] = f
	}
	return b, nil
}

// unzipFile extracts a flat archive into destDir and returns the extracted
// file paths. Directory structure inside the archive is discarded.
func unzipFile(src, destDir string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, errors.Wrap(err, "open zip")
	}
	defer r.Close()

	var paths []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))
		if err := extract(f, destPath); err != nil {
			return nil, err
		}
		paths = append(paths, destPath)
	}
	return paths, nil
}

func extract(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", destPath)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errors.Wrapf(err, "extract %s", f.Name)
	}
	return errors.Wrapf(out.Close(), "close %s", destPath)
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
