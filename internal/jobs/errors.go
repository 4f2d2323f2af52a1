package jobs

import "errors"

var (
	ErrDirectoryCreation  = errors.New("job directory creation failed")
	ErrNotFound           = errors.New("file not found")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrModelNotRegistered = errors.New("no model registered")
	ErrInference          = errors.New("inference failed")
	ErrInferenceTimeout   = errors.New("inference timed out")
)

// Kind returns a short stable name for the error class of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrDirectoryCreation):
		return "directory_creation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrInvalidUpload):
		return "invalid_upload"
	case errors.Is(err, ErrModelNotRegistered):
		return "model_not_registered"
	case errors.Is(err, ErrInferenceTimeout):
		return "inference_timeout"
	case errors.Is(err, ErrInference):
		return "inference"
	default:
		return "internal"
	}
}
