package loader

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// TerminateConnections kills every other process holding the database file
// (or its WAL and shared-memory files) open, and returns how many were
// killed. Processes whose open files cannot be listed are skipped.
func TerminateConnections(path string, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errors.Wrap(err, "resolve database path")
	}
	targets := map[string]bool{abs: true, abs + "-wal": true, abs + "-shm": true}

	procs, err := process.Processes()
	if err != nil {
		return 0, errors.Wrap(err, "list processes")
	}
	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		files, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, of := range files {
			if !targets[of.Path] {
				continue
			}
			name, _ := p.Name()
			log.Warn("terminating process holding database",
				zap.Int32("pid", p.Pid), zap.String("name", name), zap.String("path", of.Path))
			if err := p.Kill(); err != nil {
				return killed, errors.Wrapf(err, "kill pid %d", p.Pid)
			}
			killed++
			break
		}
	}
	return killed, nil
}
