package kie

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/salonstudio/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Config{KIEAPIKey: "key", KIEBaseURL: srv.URL, KIEImageModel: "test-model", RequestTimeout: 5 * time.Second}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))).WithPolling(5, time.Millisecond)
}

func TestGenerateImagePollsUntilSuccess(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		input := body["input"].(map[string]any)
		assert.Equal(t, []any{"https://cdn/x.jpg"}, input["image_input"])
		_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"t1"}}`))
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "t1", r.URL.Query().Get("taskId"))
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"code":200,"data":{"state":"generating"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://img/1.png\"]}"}}`))
	})

	img, err := newTestClient(t, mux).GenerateImage(testContext(t), GenerateOptions{Prompt: "week 2", InputURLs: []string{"https://cdn/x.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", img.URL)
	assert.EqualValues(t, 3, polls.Load())
}

func TestGenerateImageTaskFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"t1"}}`))
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"state":"fail","failCode":"500","failMsg":"nsfw"}}`))
	})

	_, err := newTestClient(t, mux).GenerateImage(testContext(t), GenerateOptions{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nsfw")
}

func TestGenerateImageTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"t1"}}`))
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"state":"waiting"}}`))
	})

	_, err := newTestClient(t, mux).GenerateImage(testContext(t), GenerateOptions{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout after 5 attempts")
}

func TestGenerateImageRejectsHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := newTestClient(t, mux).GenerateImage(testContext(t), GenerateOptions{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestGenerateImageRequiresPrompt(t *testing.T) {
	_, err := newTestClient(t, http.NewServeMux()).GenerateImage(testContext(t), GenerateOptions{})
	assert.Error(t, err)
}
