package imaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/partsmarket/backend/internal/logging"
)

// Recorder receives per-task compression observations.
type Recorder interface {
	ObserveCompression(policy, code string, originalSize, compressedSize int, duration time.Duration)
}

// Client is the caller-side entry point. It dispatches tasks to the pool,
// enforces the per-task timeout, and runs tasks inline when no pool is usable.
type Client struct {
	Pool       *Pool
	Compressor *Compressor
	Timeout    time.Duration
	Metrics    Recorder
}

// Compress runs task and returns the correlated response. The error is
// non-nil only when the caller's context or the timeout ends first.
func (c *Client) Compress(ctx context.Context, task Task) (Response, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	logger := logging.FromContext(ctx).With("task_id", task.ID)
	start := time.Now()

	resp, err := c.dispatch(ctx, task)
	if err != nil {
		logger.Warn("image task abandoned", "error", err)
		return Response{}, err
	}

	if c.Metrics != nil {
		policy := "single"
		if task.Sized() {
			policy = "sized"
		}
		code := "OK"
		if !resp.OK {
			code = string(resp.Code)
		}
		c.Metrics.ObserveCompression(policy, code, resp.OriginalSize, resp.CompressedSize, time.Since(start))
	}
	return resp, nil
}

// CompressOrOriginal behaves like Compress but substitutes the original bytes
// when they cannot be decoded yet still sniff as a supported raster format.
// The substitute carries the sniffed content type, never the declared one.
// The boolean is false when the original is returned.
func (c *Client) CompressOrOriginal(ctx context.Context, task Task) (Response, bool, error) {
	resp, err := c.Compress(ctx, task)
	if err != nil {
		return Response{}, false, err
	}
	if resp.OK || resp.Code != CodeDecodeFailure {
		return resp, resp.OK, nil
	}

	logger := logging.FromContext(ctx)
	contentType, _, ok := SniffRaster(task.File)
	if !ok {
		logger.Warn("refusing to keep undecodable upload", "task_id", resp.ID, "declared", task.ContentType)
		return resp, false, nil
	}

	logger.Info("keeping original image", "task_id", resp.ID, "content_type", contentType, "reason", resp.Message)
	return Response{
		ID:             resp.ID,
		OK:             true,
		Blob:           task.File,
		ContentType:    contentType,
		OriginalSize:   len(task.File),
		CompressedSize: len(task.File),
	}, false, nil
}

func (c *Client) dispatch(ctx context.Context, task Task) (Response, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if c.Pool != nil {
		resp, err := c.Pool.Do(ctx, task)
		if !errors.Is(err, ErrPoolClosed) {
			return resp, err
		}
		logging.FromContext(ctx).Warn("image pool closed, compressing inline", "task_id", task.ID)
	}

	compressor := c.Compressor
	if compressor == nil {
		compressor = NewCompressor(Config{})
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return compressor.Run(ctx, task), nil
}
