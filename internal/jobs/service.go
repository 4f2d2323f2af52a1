package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Brownie44l1/detect-offload/internal/metric"
	"github.com/Brownie44l1/detect-offload/internal/publish"
	"github.com/Brownie44l1/detect-offload/pkg/api"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Minute

// Runner is the inference routine. It reads the model and image named by req
// and writes every artifact it produces into req.OutDir.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

type RunRequest struct {
	// ModelRef is the reference returned when the model was registered.
	ModelRef  string
	ModelPath string
	ImagePath string
	OutDir    string
}

type RunResult struct {
	SummaryPath string
	TimingPath  string
}

type ServiceConfig struct {
	Store            *Store
	Models           *ModelStage
	IDs              *IDGenerator
	Runner           Runner
	Publisher        publish.Publisher
	InferenceTimeout time.Duration
}

type Service struct {
	store     *Store
	models    *ModelStage
	ids       *IDGenerator
	runner    Runner
	publisher publish.Publisher
	timeout   time.Duration

	registerMu sync.Mutex
	refMu      sync.RWMutex
	modelRef   string

	running    sync.WaitGroup
	publishing sync.WaitGroup
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:     cfg.Store,
		models:    cfg.Models,
		ids:       cfg.IDs,
		runner:    cfg.Runner,
		publisher: cfg.Publisher,
		timeout:   cfg.InferenceTimeout,
	}
	if s.ids == nil {
		s.ids = NewIDGenerator(time.Now)
	}
	if s.publisher == nil {
		s.publisher = publish.Noop{}
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Minute
	}
	return s
}

// ModelReference returns the name of the most recently registered model.
func (s *Service) ModelReference() string {
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	return s.modelRef
}

// RegisterModel replaces the staged model with r and returns the upload's base
// name as the model reference.
func (s *Service) RegisterModel(ctx context.Context, filename string, r io.Reader) (string, error) {
	ref := baseName(filename)
	if !validSegment(ref) {
		return "", fmt.Errorf("%w: invalid model file name %q", ErrInvalidUpload, filename)
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.models.Replace(r); err != nil {
		return "", fmt.Errorf("stage model %s: %w", ref, err)
	}

	s.refMu.Lock()
	s.modelRef = ref
	s.refMu.Unlock()

	metric.Incr(metric.ModelUploadCount, nil)
	log.Info().Str("model", ref).Str("path", s.models.Path()).Msg("Model registered")
	return ref, nil
}

// RunInference creates a job for one uploaded image, runs the model on it and
// returns the job's metadata.
func (s *Service) RunInference(ctx context.Context, modelRef, filename string, r io.Reader) (*api.UploadMetadata, error) {
	start := time.Now()
	md, err := s.runInference(ctx, modelRef, filename, r)
	if err != nil {
		metric.Incr(metric.InferenceErrorCount, metric.BuildTags(metric.TagErrorKind, Kind(err)))
		return nil, err
	}
	metric.Timing(metric.InferenceLatency, time.Since(start), nil)
	return md, nil
}

func (s *Service) runInference(ctx context.Context, modelRef, filename string, r io.Reader) (*api.UploadMetadata, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidUpload)
	}
	if !s.models.Exists() {
		return nil, ErrModelNotRegistered
	}
	ref := s.ModelReference()
	switch {
	case ref == "":
		// staged by an earlier process, the reference was not kept
		ref = modelRef
	case modelRef != ref:
		log.Warn().Str("requested", modelRef).Str("staged", ref).Msg("Model reference differs from staged model, using staged model")
	}

	id := s.ids.Next(filename)
	jobDir, err := s.store.CreateJobDir(id)
	if err != nil {
		return nil, err
	}
	imagePath, err := s.store.StageUpload(id, filename, r)
	if err != nil {
		return nil, err
	}

	result, err := s.run(ctx, RunRequest{
		ModelRef:  ref,
		ModelPath: s.models.Path(),
		ImagePath: imagePath,
		OutDir:    jobDir,
	})
	if err != nil {
		log.Error().Err(err).Str("job", id).Msg("Inference failed")
		return nil, err
	}

	images, err := s.store.ListImages(id)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of %s: %w", id, err)
	}

	s.publishAsync(id, jobDir)

	log.Info().Str("job", id).Str("file", filename).Int("images", len(images)).Msg("Job ready")
	return &api.UploadMetadata{
		Message:         "IMAGE processed successfully",
		Filename:        filename,
		ProcessedImages: images,
		SummaryFilePath: s.store.Rel(result.SummaryPath),
		TimePath:        s.store.Rel(result.TimingPath),
		TotalImages:     len(images),
		OutputDir:       jobDir,
		BaseF:           id,
	}, nil
}

// run executes the runner with the inference timeout. A runner that outlives
// the timeout keeps running in the background; its job directory is removed
// once it returns so no complete artifacts appear for a failed job.
func (s *Service) run(ctx context.Context, req RunRequest) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	type outcome struct {
		res *RunResult
		err error
	}
	var (
		mu        sync.Mutex
		finished  bool
		abandoned bool
	)
	done := make(chan outcome, 1)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer cancel()
		res, err := s.runner.Run(ctx, req)

		mu.Lock()
		finished = true
		drop := abandoned
		mu.Unlock()
		if drop {
			if rmErr := os.RemoveAll(req.OutDir); rmErr != nil {
				log.Error().Err(rmErr).Str("dir", req.OutDir).Msg("Failed to remove abandoned job directory")
			}
			return
		}
		done <- outcome{res, err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		mu.Lock()
		if finished {
			mu.Unlock()
			o = <-done
			break
		}
		abandoned = true
		mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrInferenceTimeout, s.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrInference, ctx.Err())
	}

	switch {
	case o.err == nil && o.res == nil:
		return nil, fmt.Errorf("%w: runner returned no result", ErrInference)
	case o.err == nil:
		return o.res, nil
	case errors.Is(o.err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", ErrInferenceTimeout, s.timeout)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInference, o.err)
	}
}

func (s *Service) publishAsync(id, jobDir string) {
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, id, jobDir); err != nil {
			metric.Incr(metric.PublishErrorCount, nil)
			log.Error().Err(err).Str("job", id).Msg("Failed to publish job artifacts")
		}
	}()
}

// ListJobFiles echoes name with its length.
func (s *Service) ListJobFiles(name string) api.ImageListing {
	return api.ImageListing{Images: name, Total: utf8.RuneCountInString(name)}
}

// Open resolves a downloadable artifact. See Store.Resolve.
func (s *Service) Open(dir, name string) (string, error) {
	return s.store.Resolve(dir, name)
}

// Close waits for runners still working on timed-out jobs, then for in-flight
// publications.
func (s *Service) Close() {
	s.running.Wait()
	s.publishing.Wait()
}
