package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/partsmarket/backend/internal/imaging"
	"github.com/partsmarket/backend/internal/logging"
	"github.com/partsmarket/backend/internal/models"
	"github.com/partsmarket/backend/internal/storage"
)

const (
	defaultMaxUploadBytes = 20 << 20
	multipartOverhead     = 1 << 20
)

var errUploadTooLarge = errors.New("upload exceeds size limit")

// ImageHandler accepts image uploads, compresses them and stores the result.
type ImageHandler struct {
	Compressor     ImageCompressor
	Storage        ImageStorage
	Records        ImageRecorder
	MaxUploadBytes int64
	SizedMaxBytes  int
	NowFunc        func() time.Time
}

type imageUploadResponse struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
	Format         string `json:"format,omitempty"`
	Compressed     bool   `json:"compressed"`
	Attempts       int    `json:"attempts,omitempty"`
}

type upload struct {
	name        string
	contentType string
	data        []byte
	task        imaging.Task
}

// Upload handles POST /api/v1/images with the single-pass policy. Files that
// cannot be decoded are stored unchanged.
func (h ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Compressor == nil || h.Storage == nil {
		logger.Error("image dependencies unavailable", "hasCompressor", h.Compressor != nil, "hasStorage", h.Storage != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "image services unavailable"})
		return
	}

	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	resp, compressed, err := h.Compressor.CompressOrOriginal(ctx, up.task)
	if err != nil {
		logger.Error("image compression abandoned", "error", err)
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "image processing unavailable"})
		return
	}
	if !resp.OK {
		h.respondFailure(ctx, w, resp)
		return
	}

	h.store(ctx, w, up, resp, compressed)
}

// UploadSized handles POST /api/v1/images/sized with the byte-ceiling policy.
func (h ImageHandler) UploadSized(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Compressor == nil || h.Storage == nil {
		logger.Error("image dependencies unavailable", "hasCompressor", h.Compressor != nil, "hasStorage", h.Storage != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "image services unavailable"})
		return
	}

	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	if up.task.MaxBytes <= 0 {
		up.task.MaxBytes = h.SizedMaxBytes
	}
	if up.task.MaxBytes <= 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "maxBytes is required"})
		return
	}

	resp, err := h.Compressor.Compress(ctx, up.task)
	if err != nil {
		logger.Error("image compression abandoned", "error", err)
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "image processing unavailable"})
		return
	}
	if !resp.OK {
		h.respondFailure(ctx, w, resp)
		return
	}

	h.store(ctx, w, up, resp, true)
}

func (h ImageHandler) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(ctx, w, http.StatusRequestEntityTooLarge, map[string]string{"error": errUploadTooLarge.Error()})
			return upload{}, false
		}
		logger.Warn("invalid multipart upload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return upload{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		logger.Warn("read upload failed", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "unable to read file"})
		return upload{}, false
	}
	if int64(len(data)) > limit {
		respondJSON(ctx, w, http.StatusRequestEntityTooLarge, map[string]string{"error": errUploadTooLarge.Error()})
		return upload{}, false
	}
	if len(data) == 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "file is empty"})
		return upload{}, false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	task, err := taskFromForm(r)
	if errors.Is(err, imaging.ErrUnsupportedFormat) {
		respondJSON(ctx, w, http.StatusUnsupportedMediaType, map[string]string{
			"error": err.Error(),
			"code":  string(imaging.CodeUnsupportedFormat),
		})
		return upload{}, false
	}
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return upload{}, false
	}
	task.Name = header.Filename
	task.ContentType = contentType
	task.File = data

	return upload{name: header.Filename, contentType: contentType, data: data, task: task}, true
}

func taskFromForm(r *http.Request) (imaging.Task, error) {
	var task imaging.Task

	if v := strings.TrimSpace(r.FormValue("maxSide")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return task, fmt.Errorf("maxSide must be a positive integer")
		}
		task.MaxSide = n
	}
	if v := strings.TrimSpace(r.FormValue("quality")); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil || q <= 0 || q > 1 {
			return task, fmt.Errorf("quality must be in (0, 1]")
		}
		task.Quality = q
	}
	if v := strings.TrimSpace(r.FormValue("format")); v != "" {
		f, err := imaging.ParseFormat(v)
		if err != nil {
			return task, fmt.Errorf("unsupported output format %q: %w", v, err)
		}
		task.Format = f
	}
	if v := strings.TrimSpace(r.FormValue("maxBytes")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return task, fmt.Errorf("maxBytes must be a positive integer")
		}
		task.MaxBytes = n
	}
	return task, nil
}

func (h ImageHandler) respondFailure(ctx context.Context, w http.ResponseWriter, resp imaging.Response) {
	status := http.StatusUnprocessableEntity
	if resp.Code == imaging.CodeUnsupportedFormat {
		status = http.StatusUnsupportedMediaType
	}
	respondJSON(ctx, w, status, map[string]string{
		"error": resp.Message,
		"code":  string(resp.Code),
	})
}

func (h ImageHandler) store(ctx context.Context, w http.ResponseWriter, up upload, resp imaging.Response, compressed bool) {
	logger := logging.FromContext(ctx)

	contentType := resp.ContentType
	ext := resp.Format.Extension()
	if !compressed {
		sniffed, sniffedExt, ok := imaging.SniffRaster(resp.Blob)
		if !ok {
			respondJSON(ctx, w, http.StatusUnprocessableEntity, map[string]string{
				"error": "file is not a supported image",
				"code":  string(imaging.CodeDecodeFailure),
			})
			return
		}
		contentType, ext = sniffed, sniffedExt
	}

	id := uuid.NewString()
	now := h.now()
	key := storage.ImageKey(now, id, ext)

	location, err := h.Storage.Save(ctx, key, resp.Blob, contentType)
	if err != nil {
		logger.Error("store image failed", "key", key, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to store image"})
		return
	}

	record := models.ImageUpload{
		ID:             id,
		ObjectKey:      key,
		URL:            location,
		ContentType:    contentType,
		Width:          resp.Width,
		Height:         resp.Height,
		OriginalSize:   len(up.data),
		CompressedSize: len(resp.Blob),
		CreatedAt:      now,
	}
	if h.Records != nil {
		if err := h.Records.Record(ctx, record); err != nil {
			logger.Error("record image failed", "key", key, "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to record image"})
			return
		}
	}

	logger.Info("image stored",
		"key", key,
		"compressed", compressed,
		"originalSize", record.OriginalSize,
		"compressedSize", record.CompressedSize,
	)

	respondJSON(ctx, w, http.StatusCreated, imageUploadResponse{
		ID:             id,
		URL:            location,
		Width:          resp.Width,
		Height:         resp.Height,
		OriginalSize:   record.OriginalSize,
		CompressedSize: record.CompressedSize,
		Format:         string(resp.Format),
		Compressed:     compressed,
		Attempts:       resp.Attempts,
	})
}

func (h ImageHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
