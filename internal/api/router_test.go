package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/bloodcell/internal/api/handler"
	"github.com/timmy/bloodcell/internal/api/middleware"
	"github.com/timmy/bloodcell/internal/classifier"
	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/explain"
	"github.com/timmy/bloodcell/internal/preprocess"
	"github.com/timmy/bloodcell/internal/service"
)

func smearPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 300, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 300; x++ {
			v := uint8(100)
			if (x/4+y/4)%2 == 1 {
				v = 160
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// gatedClassifier blocks in Classify until release is closed.
type gatedClassifier struct {
	inner   classifier.Classifier
	release chan struct{}
}

func (g *gatedClassifier) Name() string { return "gated" }

func (g *gatedClassifier) Classify(ctx context.Context, t *preprocess.Tensor) (*classifier.Classification, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Classify(ctx, t)
}

func newTestRouter(t *testing.T, cls classifier.Classifier, checks ...handler.Check) *gin.Engine {
	t.Helper()
	if cls == nil {
		cls = classifier.NewFixed(nil)
	}
	svc := service.NewAnalysisService(service.Dependencies{
		Preprocessor: preprocess.New(preprocess.DefaultOptions()),
		Classifier:   classifier.WithValidation(cls, 5),
		Explainer:    explain.Guard(explain.NewTemplate()),
	}, service.AnalysisConfig{Workers: 2, StageTimeout: 5 * time.Second, MaxUploadBytes: 1 << 20})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Close(ctx))
	})

	return SetupRouter(svc, RouterConfig{
		Mode:           "test",
		CORS:           middleware.CORSConfig{AllowedOrigins: []string{"https://lab.example"}},
		MaxUploadBytes: 1 << 20,
		HealthChecks:   checks,
	})
}

func do(r http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func multipartUpload(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "smear.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func upload(t *testing.T, r http.Handler) string {
	t.Helper()
	w, body := do(r, multipartUpload(t, "file", smearPNG(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "queued", body["status"])
	id, _ := body["analysis_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func waitStatus(t *testing.T, r http.Handler, id, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, body := do(r, httptest.NewRequest(http.MethodGet, "/api/progress/"+id, nil))
		return body["status"] == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUploadToResults(t *testing.T) {
	r := newTestRouter(t, nil)
	id := upload(t, r)
	waitStatus(t, r, id, "completed")

	w, body := do(r, httptest.NewRequest(http.MethodGet, "/api/progress/"+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 100, body["progress"])
	assert.NotContains(t, body, "error")

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/results/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["analysis_id"])
	assert.Contains(t, body, "cell_counts")
	assert.Contains(t, body, "diseases")
	assert.Contains(t, body, "abnormalities")
}

func TestUpload_RawImageBody(t *testing.T) {
	r := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(smearPNG(t)))
	req.Header.Set("Content-Type", "image/png")
	w, body := do(r, req)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, body["analysis_id"])
}

func TestUpload_Rejected(t *testing.T) {
	r := newTestRouter(t, nil)
	tests := []struct {
		name string
		req  *http.Request
	}{
		{"missing file", multipartUpload(t, "other", smearPNG(t))},
		{"not an image", multipartUpload(t, "file", []byte("hello"))},
		{"too large", multipartUpload(t, "file", bytes.Repeat([]byte{1}, 2<<20))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(r, tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, domain.CodeInvalidInput, body["code"])
		})
	}
}

func TestUnknownAnalysis(t *testing.T) {
	r := newTestRouter(t, nil)
	for _, path := range []string{"/api/progress/nope", "/api/results/nope", "/api/follow-up-questions/nope", "/api/images/nope"} {
		w, body := do(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, domain.CodeNotFound, body["code"], path)
	}
	w, _ := do(r, httptest.NewRequest(http.MethodPost, "/api/medical-explanation/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResults_NotReady(t *testing.T) {
	gate := &gatedClassifier{inner: classifier.NewFixed(nil), release: make(chan struct{})}
	r := newTestRouter(t, gate)
	defer close(gate.release)

	id := upload(t, r)
	waitStatus(t, r, id, "classifying")

	w, body := do(r, httptest.NewRequest(http.MethodGet, "/api/results/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.CodeNotReady, body["code"])
	assert.Equal(t, "classifying", body["status"])

	w, _ = do(r, httptest.NewRequest(http.MethodPost, "/api/medical-explanation/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

type brokenClassifier struct{}

func (brokenClassifier) Name() string { return "broken" }

func (brokenClassifier) Classify(context.Context, *preprocess.Tensor) (*classifier.Classification, error) {
	return nil, domain.ModelInference("model server unavailable", nil)
}

func TestResults_FailedJobCarriesReason(t *testing.T) {
	r := newTestRouter(t, brokenClassifier{})

	id := upload(t, r)
	waitStatus(t, r, id, "error")

	w, body := do(r, httptest.NewRequest(http.MethodGet, "/api/results/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.CodeNotReady, body["code"])
	assert.Equal(t, "error", body["status"])
	reason, ok := body["reason"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, domain.CodeModelInference, reason["code"])
}

func TestExplanationAndFollowUps(t *testing.T) {
	r := newTestRouter(t, nil)
	id := upload(t, r)
	waitStatus(t, r, id, "completed")

	w, body := do(r, httptest.NewRequest(http.MethodPost, "/api/medical-explanation/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["explanation"])

	ask := func(payload string) (*httptest.ResponseRecorder, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, "/api/follow-up-question", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		return do(r, req)
	}

	w, body = ask(`{"analysis_id":"` + id + `","question":"What are the next steps?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["answer"], "repeat blood work")

	w, _ = ask(`{"analysis_id":"` + id + `"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ask(`{"analysis_id":"` + id + `","question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ask(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/follow-up-questions/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	questions, ok := body["questions"].([]interface{})
	require.True(t, ok)
	require.Len(t, questions, 1)
	assert.Equal(t, "What are the next steps?", questions[0].(map[string]interface{})["question"])
}

func TestArchiveEndpointsWithoutArchive(t *testing.T) {
	r := newTestRouter(t, nil)
	id := upload(t, r)
	waitStatus(t, r, id, "completed")

	w, body := do(r, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["total"])

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/similar/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["enabled"])

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["jobs_in_memory"])

	w, _ = do(r, httptest.NewRequest(http.MethodDelete, "/api/analyses/"+id, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = do(r, httptest.NewRequest(http.MethodGet, "/api/progress/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, nil)
	w, body := do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	r = newTestRouter(t, nil,
		handler.Check{Name: "database", Probe: func(context.Context) error { return nil }},
		handler.Check{Name: "qdrant", Probe: func(context.Context) error { return errors.New("connection refused") }},
	)
	w, body = do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "ok", components["database"])
	assert.Equal(t, "connection refused", components["qdrant"])
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	req.Header.Set("Origin", "https://lab.example")
	w, _ := do(r, req)
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "https://lab.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "https://lab.example")
	w, _ = do(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w, _ = do(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestMiddleware_RejectsMalformedRequestID(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, incoming := range []string{
		strings.Repeat("a", 65),
		"id\r\nSet-Cookie: x=1",
		"<script>",
		"spaces are not allowed",
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(middleware.RequestIDHeader, incoming)
		w, _ := do(r, req)

		got := w.Header().Get(middleware.RequestIDHeader)
		assert.NotEqual(t, incoming, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "replacement for %q should be a fresh uuid", incoming)
	}

	id := strings.Repeat("b", 64)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, id)
	w, _ := do(r, req)
	assert.Equal(t, id, w.Header().Get(middleware.RequestIDHeader))
}
