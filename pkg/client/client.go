// Package client offloads detection to a remote inference server.
//
// A Client uploads its model lazily, once, and then submits images, downloads
// each job's summary and decodes it:
//
//	c := client.New("http://gpu-host:8080", "models/detector.onnx")
//	summary, err := c.Infer(ctx, img)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Brownie44l1/detect-offload/pkg/api"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
)

const (
	defaultJPEGQuality = 95
	defaultTimeout     = 5 * time.Minute
	maxErrorBody       = 4 << 10
)

type Client struct {
	baseURL     string
	modelPath   string
	httpClient  *http.Client
	jpegQuality int
	maxDim      int

	// regMu serialises model uploads; mu guards the cached reference only.
	regMu      sync.Mutex
	mu         sync.Mutex
	registered bool
	modelRef   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithJPEGQuality(q int) Option {
	return func(c *Client) {
		if q >= 1 && q <= 100 {
			c.jpegQuality = q
		}
	}
}

// WithMaxDimension downscales images whose width or height exceeds n before
// upload. Zero disables downscaling.
func WithMaxDimension(n int) Option {
	return func(c *Client) { c.maxDim = n }
}

func New(baseURL, modelPath string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		modelPath:   modelPath,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		jpegQuality: defaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelReference reports the reference of the registered model, if any.
func (c *Client) ModelReference() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelRef, c.registered
}

// EnsureModelRegistered uploads the model on first use. Later calls return the
// cached reference without touching the network. A failed upload is not
// cached, so the next call retries.
func (c *Client) EnsureModelRegistered(ctx context.Context) (string, error) {
	if ref, ok := c.ModelReference(); ok {
		return ref, nil
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()
	if ref, ok := c.ModelReference(); ok {
		return ref, nil
	}

	ref, err := c.uploadModel(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.modelRef, c.registered = ref, true
	c.mu.Unlock()
	return ref, nil
}

func (c *Client) uploadModel(ctx context.Context) (string, error) {
	f, err := os.Open(c.modelPath)
	if err != nil {
		return "", &Error{Kind: ErrModelUpload, Err: err}
	}
	defer f.Close()

	status, body, err := c.postFile(ctx, c.url(api.UploadModelPath), filepath.Base(c.modelPath), f)
	if err != nil {
		return "", &Error{Kind: ErrModelUpload, Err: err}
	}
	if !success(status) {
		return "", &Error{Kind: ErrModelUpload, StatusCode: status, Body: truncate(body)}
	}

	var ref string
	if err := json.Unmarshal(body, &ref); err != nil || ref == "" {
		return "", &Error{Kind: ErrModelUpload, Body: truncate(body), Err: fmt.Errorf("unexpected model reference: %v", err)}
	}
	return ref, nil
}

// SubmitImage uploads img as a JPEG under a fresh unique name and returns the
// job metadata.
func (c *Client) SubmitImage(ctx context.Context, img image.Image) (*api.UploadMetadata, error) {
	ref, err := c.EnsureModelRegistered(ctx)
	if err != nil {
		return nil, err
	}

	data, err := c.encode(img)
	if err != nil {
		return nil, &Error{Kind: ErrImageUpload, Err: err}
	}

	name := uuid.NewString() + ".jpg"
	status, body, err := c.postFile(ctx, c.url(api.UploadImagePath+url.PathEscape(ref)), name, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: ErrImageUpload, Err: err}
	}
	if !success(status) {
		return nil, &Error{Kind: ErrImageUpload, StatusCode: status, Body: truncate(body)}
	}

	var md api.UploadMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, &Error{Kind: ErrImageUpload, Body: truncate(body), Err: err}
	}
	if md.BaseF == "" {
		// servers that report failures with a success status
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, &Error{Kind: ErrImageUpload, Body: truncate(body), Err: errors.New(e.Error)}
		}
		return nil, &Error{Kind: ErrImageUpload, Body: truncate(body), Err: errors.New("response has no job id")}
	}
	return &md, nil
}

// SubmitImages submits imgs in order. The first failure aborts the batch and
// no metadata is returned.
func (c *Client) SubmitImages(ctx context.Context, imgs []image.Image) ([]*api.UploadMetadata, error) {
	out := make([]*api.UploadMetadata, 0, len(imgs))
	for i, img := range imgs {
		md, err := c.SubmitImage(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out = append(out, md)
	}
	return out, nil
}

// FetchResult downloads and decodes the summary of the job described by md.
func (c *Client) FetchResult(ctx context.Context, md *api.UploadMetadata) (*api.JobSummary, error) {
	if md == nil || md.BaseF == "" || md.SummaryFilePath == "" {
		return nil, &Error{Kind: ErrResultFetch, Err: errors.New("metadata carries no summary reference")}
	}
	data, err := c.DownloadFile(ctx, md.BaseF, path.Base(md.SummaryFilePath))
	if err != nil {
		return nil, err
	}
	return DecodeSummary(data)
}

// DownloadFile fetches a file produced by a job. An empty dir addresses the
// server's output root.
func (c *Client) DownloadFile(ctx context.Context, dir, name string) ([]byte, error) {
	endpoint := c.url(api.DownloadImagePath + url.PathEscape(name) + "/" + url.PathEscape(dir))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: ErrResultFetch, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrResultFetch, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrResultFetch, StatusCode: resp.StatusCode, Err: err}
	}
	if !success(resp.StatusCode) {
		return nil, &Error{Kind: ErrResultFetch, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	return body, nil
}

// Infer registers the model if needed, submits img and returns its summary.
func (c *Client) Infer(ctx context.Context, img image.Image) (*api.JobSummary, error) {
	if _, err := c.EnsureModelRegistered(ctx); err != nil {
		return nil, err
	}
	md, err := c.SubmitImage(ctx, img)
	if err != nil {
		return nil, err
	}
	return c.FetchResult(ctx, md)
}

// InferBatch is Infer for several images. All images are submitted before any
// summary is fetched; the result has one summary per image, in input order.
func (c *Client) InferBatch(ctx context.Context, imgs []image.Image) ([]*api.JobSummary, error) {
	if _, err := c.EnsureModelRegistered(ctx); err != nil {
		return nil, err
	}
	mds, err := c.SubmitImages(ctx, imgs)
	if err != nil {
		return nil, err
	}
	out := make([]*api.JobSummary, 0, len(mds))
	for i, md := range mds {
		s, err := c.FetchResult(ctx, md)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Ping checks that the server is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(api.HealthPath), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference server unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if b := img.Bounds(); c.maxDim > 0 && (b.Dx() > c.maxDim || b.Dy() > c.maxDim) {
		img = resize.Thumbnail(uint(c.maxDim), uint(c.maxDim), img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// postFile streams content as the multipart "file" field and returns the
// response status and body.
func (c *Client) postFile(ctx context.Context, endpoint, filename string, content io.Reader) (int, []byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		part, err := mw.CreateFormFile(api.FormFileField, filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	defer func() {
		pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) url(p string) string {
	return c.baseURL + p
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
