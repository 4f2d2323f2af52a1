package model

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/Brownie44l1/detect-offload/internal/jobs"
	"github.com/Brownie44l1/detect-offload/pkg/api"
	"github.com/rs/zerolog/log"
)

const annotatedQuality = 90

// Runner is the inference routine behind a job: it decodes the staged image,
// runs the detector and writes the annotated image, summary.json and
// timing.json into the job directory.
type Runner struct {
	detector Detector
}

func NewRunner(detector Detector) *Runner {
	return &Runner{detector: detector}
}

func (r *Runner) Run(ctx context.Context, req jobs.RunRequest) (*jobs.RunResult, error) {
	started := time.Now()
	imagePath, outDir := req.ImagePath, req.OutDir
	modelRef := req.ModelRef
	if modelRef == "" {
		modelRef = filepath.Base(req.ModelPath)
	}

	img, err := decodeImage(imagePath)
	if err != nil {
		return nil, err
	}
	decoded := time.Now()

	dets, err := r.detector.Detect(ctx, req.ModelPath, img)
	if err != nil {
		return nil, err
	}
	inferred := time.Now()
	if dets == nil {
		dets = []api.Detection{}
	}

	annotatedName := jobs.Stem(imagePath) + "_annotated.jpg"
	if err := writeJPEG(filepath.Join(outDir, annotatedName), annotate(img, dets)); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range dets {
		counts[d.Class]++
	}
	summary := api.JobSummary{
		Job:             filepath.Base(outDir),
		Image:           filepath.Base(imagePath),
		Model:           modelRef,
		ImageWidth:      img.Bounds().Dx(),
		ImageHeight:     img.Bounds().Dy(),
		Detections:      dets,
		ClassCounts:     counts,
		AnnotatedImages: []string{annotatedName},
	}
	summaryPath := filepath.Join(outDir, api.SummaryFileName)
	if err := writeJSON(summaryPath, summary); err != nil {
		return nil, err
	}
	finished := time.Now()

	timingPath := filepath.Join(outDir, api.TimingFileName)
	if err := writeJSON(timingPath, api.Timing{
		StartedAt:     started,
		PreprocessMs:  decoded.Sub(started).Milliseconds(),
		InferenceMs:   inferred.Sub(decoded).Milliseconds(),
		PostprocessMs: finished.Sub(inferred).Milliseconds(),
		TotalMs:       finished.Sub(started).Milliseconds(),
	}); err != nil {
		return nil, err
	}

	log.Debug().Str("job", summary.Job).Int("detections", len(dets)).
		Dur("elapsed", finished.Sub(started)).Msg("Inference artifacts written")
	return &jobs.RunResult{SummaryPath: summaryPath, TimingPath: timingPath}, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("invalid image format, supported: JPEG, PNG: %w", err)
	}
	return img, nil
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: annotatedQuality}); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
