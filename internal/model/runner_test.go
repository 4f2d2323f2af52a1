package model

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/detect-offload/internal/jobs"
	"github.com/Brownie44l1/detect-offload/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) Detect(ctx context.Context, modelPath string, img image.Image) ([]api.Detection, error) {
	args := m.Called(ctx, modelPath, img)
	dets, _ := args.Get(0).([]api.Detection)
	return dets, args.Error(1)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestRunner_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "20240101000000_page")
	require.NoError(t, os.Mkdir(outDir, 0o755))
	imagePath := filepath.Join(dir, "page.png")
	writePNG(t, imagePath, solidImage(80, 60, color.White))
	modelPath := filepath.Join(dir, "model.onnx")

	dets := []api.Detection{
		{Class: "title", ClassID: 0, Confidence: 0.9, Box: api.Box{X1: 5, Y1: 5, X2: 40, Y2: 15}},
		{Class: "table", ClassID: 2, Confidence: 0.8, Box: api.Box{X1: 10, Y1: 20, X2: 70, Y2: 50}},
		{Class: "title", ClassID: 0, Confidence: 0.7, Box: api.Box{X1: 45, Y1: 5, X2: 75, Y2: 15}},
	}
	det := &mockDetector{}
	det.On("Detect", mock.Anything, modelPath, mock.Anything).Return(dets, nil).Once()

	res, err := NewRunner(det).Run(context.Background(), jobs.RunRequest{
		ModelRef:  "detector.pt",
		ModelPath: modelPath,
		ImagePath: imagePath,
		OutDir:    outDir,
	})
	require.NoError(t, err)
	det.AssertExpectations(t)

	assert.Equal(t, filepath.Join(outDir, api.SummaryFileName), res.SummaryPath)
	assert.Equal(t, filepath.Join(outDir, api.TimingFileName), res.TimingPath)
	assert.FileExists(t, filepath.Join(outDir, "page_annotated.jpg"))

	data, err := os.ReadFile(res.SummaryPath)
	require.NoError(t, err)
	var summary api.JobSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "20240101000000_page", summary.Job)
	assert.Equal(t, "page.png", summary.Image)
	assert.Equal(t, "detector.pt", summary.Model, "summary names the registered model, not the staged file")
	assert.Equal(t, 80, summary.ImageWidth)
	assert.Equal(t, 60, summary.ImageHeight)
	assert.Equal(t, dets, summary.Detections)
	assert.Equal(t, map[string]int{"title": 2, "table": 1}, summary.ClassCounts)
	assert.Equal(t, []string{"page_annotated.jpg"}, summary.AnnotatedImages)

	data, err = os.ReadFile(res.TimingPath)
	require.NoError(t, err)
	var timing api.Timing
	require.NoError(t, json.Unmarshal(data, &timing))
	assert.False(t, timing.StartedAt.IsZero())
	assert.GreaterOrEqual(t, timing.TotalMs, timing.InferenceMs)
}

func TestRunner_NoDetectionsWritesEmptyList(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "blank.png")
	writePNG(t, imagePath, solidImage(10, 10, color.Black))

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	res, err := NewRunner(det).Run(context.Background(), jobs.RunRequest{ModelPath: "model.onnx", ImagePath: imagePath, OutDir: dir})
	require.NoError(t, err)

	data, err := os.ReadFile(res.SummaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections": []`)
	assert.Contains(t, string(data), `"model": "model.onnx"`, "falls back to the staged file name")
}

func TestRunner_DetectorErrorWritesNoSummary(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(outDir, 0o755))
	imagePath := filepath.Join(dir, "page.png")
	writePNG(t, imagePath, solidImage(10, 10, color.White))

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("session failed"))

	_, err := NewRunner(det).Run(context.Background(), jobs.RunRequest{ModelPath: "model.onnx", ImagePath: imagePath, OutDir: outDir})
	assert.ErrorContains(t, err, "session failed")
	assert.NoFileExists(t, filepath.Join(outDir, api.SummaryFileName))
}

func TestRunner_RejectsUndecodableImage(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "page.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("not an image"), 0o644))

	det := &mockDetector{}
	_, err := NewRunner(det).Run(context.Background(), jobs.RunRequest{ModelPath: "model.onnx", ImagePath: imagePath, OutDir: dir})
	assert.ErrorContains(t, err, "invalid image format")
	det.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnnotate_DrawsOutlineOnly(t *testing.T) {
	src := solidImage(20, 20, color.White)
	out := annotate(src, []api.Detection{
		{ClassID: 1, Box: api.Box{X1: 2, Y1: 2, X2: 18, Y2: 18}},
		{ClassID: -1, Box: api.Box{X1: 30, Y1: 30, X2: 40, Y2: 40}},
	})

	assert.Equal(t, palette[1], out.RGBAAt(2, 2))
	assert.Equal(t, palette[1], out.RGBAAt(17, 10))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, src.RGBAAt(2, 2), "source is not modified")
}
