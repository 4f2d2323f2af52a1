package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildTags(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "no tags",
			input:    nil,
			expected: []string{},
		},
		{
			name:     "pairs",
			input:    []string{TagPath, "/upload-img/:model", TagMethod, "POST"},
			expected: []string{"path:/upload-img/:model", "method:POST"},
		},
		{
			name:     "dangling key is dropped",
			input:    []string{TagErrorKind, "inference", TagHttpStatusCode},
			expected: []string{"error_kind:inference"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildTags(tt.input...))
		})
	}
}

func TestNoOpClientBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Incr(ModelUploadCount, nil)
		Timing(InferenceLatency, time.Millisecond, BuildTags(TagErrorKind, "none"))
	})
}
