package imaging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorderStub struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorderStub) ObserveCompression(policy, code string, _, _ int, _ time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, policy+":"+code)
	r.mu.Unlock()
}

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestPoolDoCorrelatesResponses(t *testing.T) {
	pool := NewPool(NewCompressor(Config{}), PoolConfig{Workers: 3, QueueSize: 4}, discardLogger())
	defer shutdown(t, pool)

	file := encodePNG(t, quadrants(40, 20))
	ids := []string{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	results := make(map[string]Response)
	var mu sync.Mutex
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := pool.Do(context.Background(), Task{ID: id, Name: id + ".png", File: file, MaxSide: 10, Quality: 0.8})
			assert.NoError(t, err)
			mu.Lock()
			results[id] = resp
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	require.Len(t, results, len(ids))
	for id, resp := range results {
		assert.Equal(t, id, resp.ID)
		assert.True(t, resp.OK, resp.Message)
		assert.Equal(t, 10, resp.Width)
		assert.Equal(t, 5, resp.Height)
		assert.Equal(t, "image/jpeg", resp.ContentType)
	}
}

func TestPoolAssignsIDAndRunsSizedTasks(t *testing.T) {
	pool := NewPool(NewCompressor(Config{}), PoolConfig{}, discardLogger())
	defer shutdown(t, pool)

	resp, err := pool.Do(context.Background(), Task{File: encodePNG(t, quadrants(32, 32)), MaxBytes: 1, Quality: 0.9})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.True(t, resp.OK)
	assert.Equal(t, maxSizedAttempts, resp.Attempts)
}

func TestPoolRejectsDuplicateInFlightID(t *testing.T) {
	pool := NewPool(NewCompressor(Config{}), PoolConfig{Workers: 1, QueueSize: 1}, discardLogger())
	defer shutdown(t, pool)

	pool.pendingMu.Lock()
	pool.pending["busy"] = struct{}{}
	pool.pendingMu.Unlock()

	_, err := pool.Submit(context.Background(), Task{ID: "busy"})
	assert.ErrorIs(t, err, ErrDuplicateTask)

	pool.release("busy")
	reply, err := pool.Submit(context.Background(), Task{ID: "busy", File: []byte("x")})
	require.NoError(t, err)
	resp := <-reply
	assert.Equal(t, "busy", resp.ID)
	assert.Equal(t, CodeDecodeFailure, resp.Code)
}

func TestPoolClosed(t *testing.T) {
	pool := NewPool(NewCompressor(Config{}), PoolConfig{Workers: 1}, discardLogger())
	shutdown(t, pool)

	assert.True(t, pool.Closed())
	_, err := pool.Do(context.Background(), Task{ID: "late"})
	assert.ErrorIs(t, err, ErrPoolClosed)
	shutdown(t, pool)
}

func TestPoolShutdownReleasesBlockedSubmit(t *testing.T) {
	pool := newIdlePool(NewCompressor(Config{}), 1, discardLogger())

	_, err := pool.Submit(context.Background(), Task{ID: "queued"})
	require.NoError(t, err)

	submitted := make(chan error, 1)
	go func() {
		_, err := pool.Submit(context.Background(), Task{ID: "blocked"})
		submitted <- err
	}()

	require.Eventually(t, func() bool {
		pool.pendingMu.Lock()
		defer pool.pendingMu.Unlock()
		_, ok := pool.pending["blocked"]
		return ok
	}, time.Second, time.Millisecond)

	shutdown(t, pool)

	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("submit stayed blocked after shutdown")
	}
}

func TestPoolDoHonoursCallerDeadline(t *testing.T) {
	pool := NewPool(NewCompressor(Config{}), PoolConfig{Workers: 1}, discardLogger())
	defer shutdown(t, pool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Do(ctx, Task{ID: "cancelled", File: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientFallsBackInlineWhenPoolClosed(t *testing.T) {
	compressor := NewCompressor(Config{})
	pool := NewPool(compressor, PoolConfig{Workers: 1}, discardLogger())
	shutdown(t, pool)

	metrics := &recorderStub{}
	client := &Client{Pool: pool, Compressor: compressor, Timeout: 5 * time.Second, Metrics: metrics}

	resp, err := client.Compress(context.Background(), Task{ID: "inline", File: encodePNG(t, quadrants(20, 20)), MaxSide: 10})
	require.NoError(t, err)
	assert.True(t, resp.OK, resp.Message)
	assert.Equal(t, "inline", resp.ID)
	assert.Equal(t, []string{"single:OK"}, metrics.calls)
}

func TestClientCompressOrOriginal(t *testing.T) {
	client := &Client{Compressor: NewCompressor(Config{})}
	original := []byte("\xff\xd8\xff truncated upload")

	resp, compressed, err := client.CompressOrOriginal(context.Background(), Task{ID: "orig", ContentType: "text/html", File: original})
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.True(t, resp.OK)
	assert.Equal(t, original, resp.Blob)
	assert.Equal(t, "image/jpeg", resp.ContentType)

	resp, compressed, err = client.CompressOrOriginal(context.Background(), Task{ID: "heic", Name: "a.heic", File: original})
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.False(t, resp.OK)
	assert.Equal(t, CodeUnsupportedFormat, resp.Code)

	resp, compressed, err = client.CompressOrOriginal(context.Background(), Task{ID: "ok", File: encodePNG(t, quadrants(8, 8))})
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.True(t, resp.OK)

	for name, file := range map[string][]byte{
		"html":  []byte("<html><script>alert(1)</script></html>"),
		"plain": []byte("definitely not an image payload"),
	} {
		resp, compressed, err := client.CompressOrOriginal(context.Background(), Task{ID: name, Name: "x.jpg", ContentType: "image/jpeg", File: file})
		require.NoError(t, err)
		assert.False(t, compressed, name)
		assert.False(t, resp.OK, name)
		assert.Nil(t, resp.Blob, name)
		assert.Equal(t, CodeDecodeFailure, resp.Code, name)
	}
}

func TestSniffRaster(t *testing.T) {
	tests := []struct {
		data        []byte
		contentType string
		ext         string
		ok          bool
	}{
		{encodePNG(t, quadrants(4, 4)), "image/png", "png", true},
		{[]byte("\xff\xd8\xff\xe0"), "image/jpeg", "jpg", true},
		{[]byte("GIF89a...."), "image/gif", "gif", true},
		{[]byte("<!DOCTYPE html><html></html>"), "", "", false},
		{[]byte("<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"), "", "", false},
		{[]byte("%PDF-1.7"), "", "", false},
	}
	for _, tt := range tests {
		contentType, ext, ok := SniffRaster(tt.data)
		assert.Equal(t, tt.ok, ok, "%q", tt.data[:4])
		assert.Equal(t, tt.contentType, contentType)
		assert.Equal(t, tt.ext, ext)
	}
}
