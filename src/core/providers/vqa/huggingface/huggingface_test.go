package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stdimage "image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testModel = "Salesforce/blip-vqa-capfilt-large"

func writePNG(t *testing.T) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, stdimage.NewRGBA(stdimage.Rect(0, 0, 2, 2))))
	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path, buf.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(t *testing.T, config *vqa.Config) *Provider {
	t.Helper()
	provider, err := NewProvider(config, utils.NewZapLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return provider.(*Provider)
}

func hubServer(t *testing.T, pipeline string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/api/models/"+testModel {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Repository not found"})
			return
		}
		writeJSON(w, http.StatusOK, ModelInfo{ID: testModel, PipelineTag: pipeline})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadFetchesAndCaches(t *testing.T) {
	var hits int32
	hub := hubServer(t, "visual-question-answering", &hits)
	cacheDir := t.TempDir()

	config := &vqa.Config{ModelName: testModel, HubURL: hub.URL, CacheDir: cacheDir}
	require.NoError(t, newTestProvider(t, config).Load(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.FileExists(t, filepath.Join(cacheDir, "models--Salesforce--blip-vqa-capfilt-large", modelInfoFile))

	// 第二次加载命中缓存
	config2 := &vqa.Config{ModelName: testModel, HubURL: hub.URL, CacheDir: cacheDir}
	require.NoError(t, newTestProvider(t, config2).Load(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestLoadRejectsNonVQAModel(t *testing.T) {
	var hits int32
	hub := hubServer(t, "text-classification", &hits)
	config := &vqa.Config{ModelName: testModel, HubURL: hub.URL, CacheDir: t.TempDir()}
	err := newTestProvider(t, config).Load(context.Background())
	assert.ErrorContains(t, err, "text-classification")
}

func TestLoadUnknownModel(t *testing.T) {
	var hits int32
	hub := hubServer(t, "visual-question-answering", &hits)
	config := &vqa.Config{ModelName: "nobody/nothing", HubURL: hub.URL, CacheDir: t.TempDir()}
	assert.Error(t, newTestProvider(t, config).Load(context.Background()))
}

func TestAnswer(t *testing.T) {
	path, data := writePNG(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/"+testModel, r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		var req inferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What color is the fruit?", req.Inputs.Question)
		assert.Equal(t, float64(20), req.Parameters["max_new_tokens"])
		image, err := base64.StdEncoding.DecodeString(req.Inputs.Image)
		require.NoError(t, err)
		assert.Equal(t, data, image)

		writeJSON(w, http.StatusOK, []vqa.Candidate{
			{Answer: "green", Score: 0.1},
			{Answer: "red", Score: 0.9},
		})
	}))
	defer srv.Close()

	config := &vqa.Config{ModelName: testModel, BaseURL: srv.URL, APIKey: "hf_test", TopK: 2}
	candidates, err := newTestProvider(t, config).Answer(context.Background(), path, "What color is the fruit?", 20)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "red", candidates[0].Answer)
}

func TestAnswerSingleObjectResponse(t *testing.T) {
	path, _ := writePNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, vqa.Candidate{Answer: "two", Score: 0.7})
	}))
	defer srv.Close()

	candidates, err := newTestProvider(t, &vqa.Config{ModelName: testModel, BaseURL: srv.URL}).
		Answer(context.Background(), path, "How many?", 20)
	require.NoError(t, err)
	assert.Equal(t, []vqa.Candidate{{Answer: "two", Score: 0.7}}, candidates)
}

func TestAnswerCorruptImage(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, os.WriteFile(path, []byte("not an image at all"), 0600))

	_, err := newTestProvider(t, &vqa.Config{ModelName: testModel, BaseURL: srv.URL}).
		Answer(context.Background(), path, "What is this?", 20)
	assert.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestAnswerAPIError(t *testing.T) {
	path, _ := writePNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "CUDA out of memory"})
	}))
	defer srv.Close()

	_, err := newTestProvider(t, &vqa.Config{ModelName: testModel, BaseURL: srv.URL}).
		Answer(context.Background(), path, "What is this?", 20)
	assert.ErrorContains(t, err, "CUDA out of memory")
}
