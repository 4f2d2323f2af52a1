// Package api holds the wire and file formats shared by the inference
// server and its clients.
package api

import "time"

const (
	UploadModelPath   = "/upload-model/"
	UploadImagePath   = "/upload-img/"
	GetImagesPath     = "/get-images/"
	DownloadImagePath = "/download-image/"
	HealthPath        = "/health"

	// FormFileField is the multipart field carrying model and image uploads.
	FormFileField = "file"

	SummaryFileName = "summary.json"
	TimingFileName  = "timing.json"
)

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type Detection struct {
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

// JobSummary is the content of a job's summary.json.
type JobSummary struct {
	Job             string         `json:"job"`
	Image           string         `json:"image"`
	Model           string         `json:"model"`
	ImageWidth      int            `json:"image_width"`
	ImageHeight     int            `json:"image_height"`
	Detections      []Detection    `json:"detections"`
	ClassCounts     map[string]int `json:"class_counts"`
	AnnotatedImages []string       `json:"annotated_images"`
}

// Timing is the content of a job's timing.json.
type Timing struct {
	StartedAt     time.Time `json:"started_at"`
	PreprocessMs  int64     `json:"preprocess_ms"`
	InferenceMs   int64     `json:"inference_ms"`
	PostprocessMs int64     `json:"postprocess_ms"`
	TotalMs       int64     `json:"total_ms"`
}

// UploadMetadata is returned by the image upload endpoint. Paths are relative
// to the server's output root.
type UploadMetadata struct {
	Message         string   `json:"message"`
	Filename        string   `json:"filename"`
	ProcessedImages []string `json:"processed_images"`
	SummaryFilePath string   `json:"summary_file_path"`
	TimePath        string   `json:"time_path"`
	TotalImages     int      `json:"total_images"`
	OutputDir       string   `json:"OUTPUT_DIR2"`
	BaseF           string   `json:"baseF"`
}

type ImageListing struct {
	Images string `json:"images"`
	Total  int    `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
