package client

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/Brownie44l1/detect-offload/pkg/api"
)

// DecodeSummary parses a downloaded summary. Summaries written as single-quoted
// literals by older servers are quote-normalised and parsed again.
func DecodeSummary(data []byte) (*api.JobSummary, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &Error{Kind: ErrResultDecode, Err: errors.New("empty summary")}
	}

	var s api.JobSummary
	err := json.Unmarshal(trimmed, &s)
	if err == nil {
		return &s, nil
	}

	if bytes.IndexByte(trimmed, '\'') >= 0 {
		var legacy api.JobSummary
		if json.Unmarshal(bytes.ReplaceAll(trimmed, []byte("'"), []byte(`"`)), &legacy) == nil {
			return &legacy, nil
		}
	}
	return nil, &Error{Kind: ErrResultDecode, Body: truncate(data), Err: err}
}
