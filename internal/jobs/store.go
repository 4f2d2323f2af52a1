package jobs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store owns the on-disk layout: a staging area for uploads and an output
// root holding one directory per job.
type Store struct {
	uploadDir string
	outputDir string
}

func NewStore(uploadDir, outputDir string) (*Store, error) {
	up, err := ensureDir(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}
	out, err := ensureDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output dir: %w", err)
	}
	return &Store{uploadDir: up, outputDir: out}, nil
}

func ensureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func (s *Store) OutputDir() string { return s.outputDir }

func (s *Store) JobDir(id string) string { return filepath.Join(s.outputDir, id) }

// CreateJobDir creates the job directory. It fails if the directory already exists.
func (s *Store) CreateJobDir(id string) (string, error) {
	if !validSegment(id) {
		return "", fmt.Errorf("%w: invalid job id %q", ErrDirectoryCreation, id)
	}
	dir := s.JobDir(id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDirectoryCreation, id, err)
	}
	return dir, nil
}

// StageUpload writes an uploaded image into a staging directory owned by the job.
func (s *Store) StageUpload(id, filename string, r io.Reader) (string, error) {
	if !validSegment(id) {
		return "", fmt.Errorf("%w: invalid job id %q", ErrDirectoryCreation, id)
	}
	dir := filepath.Join(s.uploadDir, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: staging %s: %v", ErrDirectoryCreation, id, err)
	}
	dst := filepath.Join(dir, SafeFileName(filename))
	if err := writeFileAtomic(dst, r); err != nil {
		return "", err
	}
	return dst, nil
}

// ListImages returns the JPEG artifacts of a job relative to the output root.
func (s *Store) ListImages(id string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.JobDir(id), "*.jpg"))
	if err != nil {
		return nil, err
	}
	images := make([]string, 0, len(matches))
	for _, m := range matches {
		images = append(images, s.Rel(m))
	}
	return images, nil
}

// Rel returns p relative to the output root using forward slashes.
func (s *Store) Rel(p string) string {
	rel, err := filepath.Rel(s.outputDir, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// Resolve maps a (directory, file name) pair onto a regular file beneath the
// output root. An empty dir means the root itself.
func (s *Store) Resolve(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", ErrInvalidPath)
	}
	target := filepath.Join(s.outputDir, filepath.FromSlash(dir), filepath.FromSlash(name))
	if !s.within(target) {
		return "", fmt.Errorf("%w: %s/%s escapes output root", ErrInvalidPath, dir, name)
	}

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, s.Rel(target))
		}
		return "", fmt.Errorf("resolve %s: %w", s.Rel(target), err)
	}
	if !s.within(resolved) {
		return "", fmt.Errorf("%w: %s/%s escapes output root", ErrInvalidPath, dir, name)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, s.Rel(target))
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a file", ErrNotFound, s.Rel(target))
	}
	return resolved, nil
}

func (s *Store) within(p string) bool {
	rel, err := filepath.Rel(s.outputDir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func validSegment(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// writeFileAtomic streams r into a temporary file next to dst and renames it
// into place, so readers never observe a partially written dst.
func writeFileAtomic(dst string, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(dst), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: empty file %s", ErrInvalidUpload, filepath.Base(dst))
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(dst), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(dst), err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename into %s: %w", filepath.Base(dst), err)
	}
	return nil
}
