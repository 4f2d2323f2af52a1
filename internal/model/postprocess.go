package model

import (
	"fmt"
	"sort"
)

// decodeOutput turns a raw detection head into candidates above the confidence
// threshold. Two layouts are accepted: feature-major [4+C, N] as exported by
// YOLOv8 and anchor-major [N, 4+C] as exported by RT-DETR. Boxes are cx,cy,w,h,
// either in input pixels or normalised to [0,1].
func decodeOutput(data []float32, dim1, dim2, numClasses, inputSize int, threshold float32) ([]candidate, error) {
	features := 4 + numClasses
	if len(data) < dim1*dim2 {
		return nil, fmt.Errorf("output has %d values, expected %d", len(data), dim1*dim2)
	}

	var anchors int
	var at func(anchor, feature int) float32
	switch {
	case dim1 == features:
		anchors = dim2
		at = func(a, f int) float32 { return data[f*dim2+a] }
	case dim2 == features:
		anchors = dim1
		at = func(a, f int) float32 { return data[a*dim2+f] }
	default:
		return nil, fmt.Errorf("output shape [%d %d] does not match %d classes", dim1, dim2, numClasses)
	}

	var out []candidate
	normalised := true
	for a := 0; a < anchors; a++ {
		best, bestScore := -1, threshold
		for c := 0; c < numClasses; c++ {
			if s := at(a, 4+c); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}
		cx, cy, w, h := at(a, 0), at(a, 1), at(a, 2), at(a, 3)
		if cx > 1.5 || cy > 1.5 || w > 1.5 || h > 1.5 {
			normalised = false
		}
		out = append(out, candidate{
			x1: cx - w/2, y1: cy - h/2, x2: cx + w/2, y2: cy + h/2,
			score: bestScore, classID: best,
		})
	}

	if normalised {
		s := float32(inputSize)
		for i := range out {
			out[i].x1 *= s
			out[i].y1 *= s
			out[i].x2 *= s
			out[i].y2 *= s
		}
	}
	return out, nil
}

// nms keeps the highest scoring box of every group of same-class boxes that
// overlap by more than iouThreshold.
func nms(cands []candidate, iouThreshold float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		keep := true
		for _, k := range kept {
			if k.classID == c.classID && iou(k, c) > iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b candidate) float32 {
	ix1, iy1 := max(a.x1, b.x1), max(a.y1, b.y1)
	ix2, iy2 := min(a.x2, b.x2), min(a.y2, b.y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := (a.x2-a.x1)*(a.y2-a.y1) + (b.x2-b.x1)*(b.y2-b.y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
