package jobs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	require.NoError(t, err)
	return store, root
}

func TestNewStore_CreatesDirectories(t *testing.T) {
	_, root := newTestStore(t)

	assert.DirExists(t, filepath.Join(root, "uploads"))
	assert.DirExists(t, filepath.Join(root, "outputs"))
}

func TestCreateJobDir_FailsOnExistingDirectory(t *testing.T) {
	store, _ := newTestStore(t)

	dir, err := store.CreateJobDir("20240101000000_A")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	_, err = store.CreateJobDir("20240101000000_A")
	assert.ErrorIs(t, err, ErrDirectoryCreation)
}

func TestCreateJobDir_RejectsPathLikeIDs(t *testing.T) {
	store, _ := newTestStore(t)

	for _, id := range []string{"", ".", "..", "../x", `a\b`} {
		_, err := store.CreateJobDir(id)
		assert.ErrorIs(t, err, ErrDirectoryCreation, "id %q", id)
	}
}

func TestStageUpload_IsJobScoped(t *testing.T) {
	store, _ := newTestStore(t)

	p1, err := store.StageUpload("job1", "A.jpg", strings.NewReader("first"))
	require.NoError(t, err)
	p2, err := store.StageUpload("job2", "A.jpg", strings.NewReader("second"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	b1, _ := os.ReadFile(p1)
	b2, _ := os.ReadFile(p2)
	assert.Equal(t, "first", string(b1))
	assert.Equal(t, "second", string(b2))
}

func TestStageUpload_RejectsEmptyFile(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.StageUpload("job1", "A.jpg", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidUpload)
}

func TestStageUpload_SanitizesName(t *testing.T) {
	store, root := newTestStore(t)

	p, err := store.StageUpload("job1", "../../evil.jpg", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "evil.jpg", filepath.Base(p))
	assert.True(t, strings.HasPrefix(p, mustEval(t, filepath.Join(root, "uploads"))))
}

func TestListImages(t *testing.T) {
	store, _ := newTestStore(t)
	dir, err := store.CreateJobDir("job1")
	require.NoError(t, err)
	for _, name := range []string{"b.jpg", "a.jpg", "summary.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	images, err := store.ListImages("job1")
	require.NoError(t, err)
	assert.Equal(t, []string{"job1/a.jpg", "job1/b.jpg"}, images)
}

func TestResolve(t *testing.T) {
	store, root := newTestStore(t)
	dir, err := store.CreateJobDir("job1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.OutputDir(), "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret"), []byte("secret"), 0o644))

	p, err := store.Resolve("job1", "summary.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "summary.json"), p)

	p, err = store.Resolve("", "top.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.OutputDir(), "top.txt"), p)

	_, err = store.Resolve("job1", "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Resolve("nojob", "summary.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Resolve("", "job1")
	assert.ErrorIs(t, err, ErrNotFound, "directories are not downloadable")

	_, err = store.Resolve("..", "secret")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = store.Resolve("job1", "../../secret")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = store.Resolve("", "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestResolve_RejectsSymlinkEscape(t *testing.T) {
	store, root := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret"), []byte("secret"), 0o644))
	if err := os.Symlink(filepath.Join(root, "secret"), filepath.Join(store.OutputDir(), "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := store.Resolve("", "link")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestModelStage_ReplaceIsAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	stage, err := NewModelStage(dir, "model.onnx")
	require.NoError(t, err)
	assert.False(t, stage.Exists())

	require.NoError(t, stage.Replace(strings.NewReader("v1")))
	require.NoError(t, stage.Replace(strings.NewReader("v2")))

	data, err := os.ReadFile(stage.Path())
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(filepath.Dir(stage.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestModelStage_EmptyUploadKeepsPreviousModel(t *testing.T) {
	stage, err := NewModelStage(t.TempDir(), "model.onnx")
	require.NoError(t, err)
	require.NoError(t, stage.Replace(strings.NewReader("v1")))

	err = stage.Replace(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidUpload)

	data, err := os.ReadFile(stage.Path())
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(p)
	require.NoError(t, err)
	return r
}
