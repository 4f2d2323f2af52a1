package jobs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ModelStage is the single staged model file. Replacing it is atomic: an
// inference that opens the path sees either the previous or the new model.
type ModelStage struct {
	path string
}

func NewModelStage(dir, fileName string) (*ModelStage, error) {
	abs, err := ensureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare model dir: %w", err)
	}
	return &ModelStage{path: filepath.Join(abs, fileName)}, nil
}

func (m *ModelStage) Path() string { return m.path }

func (m *ModelStage) Exists() bool {
	info, err := os.Stat(m.path)
	return err == nil && info.Mode().IsRegular()
}

func (m *ModelStage) Replace(r io.Reader) error {
	return writeFileAtomic(m.path, r)
}
