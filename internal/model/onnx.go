package model

import (
	"context"
	"fmt"
	"image"

	"github.com/Brownie44l1/detect-offload/pkg/api"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXDetector runs a detection model exported to ONNX. A session is created
// per call so that a model replaced on disk between requests is picked up.
type ONNXDetector struct {
	cfg DetectorConfig
}

func NewONNXDetector(libraryPath string, cfg DetectorConfig) (*ONNXDetector, error) {
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("detector needs at least one label")
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return &ONNXDetector{cfg: cfg}, nil
}

func (d *ONNXDetector) Detect(ctx context.Context, modelPath string, img image.Image) ([]api.Detection, error) {
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("empty image")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has no inputs or outputs")
	}

	size := d.cfg.InputSize
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 {
		size = int(dims[2])
	}
	outShape, err := outputShape(outputs[0].Dimensions)
	if err != nil {
		return nil, err
	}

	lb := newLetterbox(img, size)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), lb.data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	defer session.Destroy()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	cands, err := decodeOutput(outputTensor.GetData(), int(outShape[1]), int(outShape[2]),
		len(d.cfg.Labels), size, d.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	return d.toDetections(nms(cands, d.cfg.IouThreshold), lb), nil
}

// outputShape returns the concrete [batch, d1, d2] shape of a detection head.
// A dynamic batch axis is fixed to 1.
func outputShape(dims ort.Shape) (ort.Shape, error) {
	if len(dims) != 3 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("unsupported output shape %v", dims)
	}
	shape := make(ort.Shape, len(dims))
	copy(shape, dims)
	if shape[0] <= 0 {
		shape[0] = 1
	}
	return shape, nil
}

func (d *ONNXDetector) toDetections(cands []candidate, lb *letterbox) []api.Detection {
	dets := make([]api.Detection, 0, len(cands))
	for _, c := range cands {
		x1, y1, x2, y2 := lb.restore(c)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		dets = append(dets, api.Detection{
			Class:      d.cfg.label(c.classID),
			ClassID:    c.classID,
			Confidence: c.score,
			Box:        api.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		})
	}
	return dets
}

func (d *ONNXDetector) Close() {
	ort.DestroyEnvironment()
}
