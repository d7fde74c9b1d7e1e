package image

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "png"},
		{"gif", []byte("GIF89a......"), "gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{"riff但不是webp", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), ""},
		{"bmp", []byte("BM\x00\x00"), "bmp"},
		{"文本", []byte("hello world"), ""},
		{"空数据", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectFormat(tt.data))
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".jpg", Extension([]byte{0xFF, 0xD8}))
	assert.Equal(t, ".png", Extension(pngBytes(t, 1, 1)))
	assert.Equal(t, ".bin", Extension([]byte("not an image")))
}

func TestInspect(t *testing.T) {
	info, err := Inspect(pngBytes(t, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, "png", info.Format)
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, 3, info.Height)
	assert.Equal(t, "image/png", info.MimeType())

	_, err = Inspect([]byte("this is definitely not an image"))
	assert.Error(t, err)

	// 文件头正确但内容损坏
	_, err = Inspect([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x01, 0x02})
	assert.Error(t, err)

	_, err = Inspect(nil)
	assert.Error(t, err)
}

func TestTempImageLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	data := pngBytes(t, 2, 2)

	tmp, err := NewTempImage(dir, data)
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(tmp.Path()))

	written, err := os.ReadFile(tmp.Path())
	require.NoError(t, err)
	assert.Equal(t, data, written)

	require.NoError(t, tmp.Release())
	_, err = os.Stat(tmp.Path())
	assert.True(t, os.IsNotExist(err))

	// 重复释放不报错
	assert.NoError(t, tmp.Release())
}

func TestTempImageReleaseMissingFile(t *testing.T) {
	tmp, err := NewTempImage(t.TempDir(), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(tmp.Path()))
	assert.NoError(t, tmp.Release())
}

func TestTempImageUniquePaths(t *testing.T) {
	dir := t.TempDir()
	const n = 50

	var mu sync.Mutex
	paths := make(map[string]struct{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tmp, err := NewTempImage(dir, []byte("same bytes"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			paths[tmp.Path()] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, paths, n)
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()

	old, err := NewTempImage(dir, []byte("old"))
	require.NoError(t, err)
	fresh, err := NewTempImage(dir, []byte("fresh"))
	require.NoError(t, err)

	foreign := filepath.Join(dir, "someone-elses.db")
	require.NoError(t, os.WriteFile(foreign, []byte("data"), 0600))
	lookalike := filepath.Join(dir, "img_123_not-a-uuid.png")
	require.NoError(t, os.WriteFile(lookalike, []byte("data"), 0600))

	past := time.Now().Add(-2 * time.Hour)
	for _, path := range []string{old.Path(), foreign, lookalike} {
		require.NoError(t, os.Chtimes(path, past, past))
	}

	cleaned, err := CleanupStale(dir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = os.Stat(old.Path())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path())
	assert.NoError(t, err)
	// 共享目录中的其他文件不受影响
	_, err = os.Stat(foreign)
	assert.NoError(t, err)
	_, err = os.Stat(lookalike)
	assert.NoError(t, err)

	cleaned, err = CleanupStale(filepath.Join(dir, "missing"), time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, cleaned)
}
