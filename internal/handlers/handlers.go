package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/detect-offload/internal/jobs"
	"github.com/Brownie44l1/detect-offload/pkg/api"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	service        *jobs.Service
	maxUploadBytes int64
}

func NewHandler(service *jobs.Service, maxUploadBytes int64) *Handler {
	return &Handler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Register(router gin.IRouter) {
	router.GET(api.HealthPath, h.Health)
	router.POST(api.UploadModelPath, h.UploadModel)
	router.POST(api.UploadImagePath+":model", h.UploadImage)
	router.GET(api.GetImagesPath+":name", h.GetImages)
	router.GET(api.DownloadImagePath+":file_name/*dir", h.DownloadImage)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// UploadModel stages the uploaded model and answers with its reference.
func (h *Handler) UploadModel(c *gin.Context) {
	filename, file, err := h.uploadedFile(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ref, err := h.service.RegisterModel(c.Request.Context(), filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

// UploadImage runs one inference job on the uploaded image.
func (h *Handler) UploadImage(c *gin.Context) {
	filename, file, err := h.uploadedFile(c)
	if err != nil {
		respondError(c, err)
		return
	}

	md, err := h.service.RunInference(c.Request.Context(), c.Param("model"), filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

func (h *Handler) GetImages(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListJobFiles(c.Param("name")))
}

// DownloadImage streams a job artifact. The directory segment may be empty, in
// which case the file is looked up in the output root.
func (h *Handler) DownloadImage(c *gin.Context) {
	dir := strings.Trim(c.Param("dir"), "/")
	path, err := h.service.Open(dir, c.Param("file_name"))
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", jobs.ErrNotFound, err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondError(c, err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, f, nil)
}

// uploadedFile returns the first part of the multipart body named "file". The
// part is streamed, never buffered whole in memory.
func (h *Handler) uploadedFile(c *gin.Context) (string, io.Reader, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	mr, err := c.Request.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", jobs.ErrInvalidUpload, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, fmt.Errorf("%w: no %q file in form", jobs.ErrInvalidUpload, api.FormFileField)
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", jobs.ErrInvalidUpload, err)
		}
		if part.FormName() == api.FormFileField && part.FileName() != "" {
			return part.FileName(), part, nil
		}
		part.Close()
	}
}

func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, jobs.ErrInvalidUpload), errors.Is(err, jobs.ErrInvalidPath):
		return http.StatusBadRequest, jobs.Kind(err)
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, jobs.Kind(err)
	case errors.Is(err, jobs.ErrModelNotRegistered):
		return http.StatusPreconditionFailed, jobs.Kind(err)
	case errors.Is(err, jobs.ErrInferenceTimeout):
		return http.StatusGatewayTimeout, jobs.Kind(err)
	default:
		return http.StatusInternalServerError, jobs.Kind(err)
	}
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("Request failed")
	c.AbortWithStatusJSON(status, api.ErrorResponse{Error: err.Error(), Code: code})
}
