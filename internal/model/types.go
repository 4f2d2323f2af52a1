package model

import (
	"context"
	"image"

	"github.com/Brownie44l1/detect-offload/pkg/api"
)

type Detector interface {
	Detect(ctx context.Context, modelPath string, img image.Image) ([]api.Detection, error)
}

type DetectorConfig struct {
	InputSize           int
	Labels              []string
	ConfidenceThreshold float32
	IouThreshold        float32
}

func (c DetectorConfig) label(classID int) string {
	if classID >= 0 && classID < len(c.Labels) {
		return c.Labels[classID]
	}
	return "unknown"
}

// candidate is a decoded box in model input coordinates.
type candidate struct {
	x1, y1, x2, y2 float32
	score          float32
	classID        int
}
