package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/idverify/internal/capture"
	"github.com/example/idverify/internal/session"
	"github.com/example/idverify/internal/usecase"
)

type recordedRequest struct {
	method      string
	path        string
	auth        string
	contentType string
	body        []byte
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	server   *httptest.Server
	handlers map[string]http.HandlerFunc
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{handlers: map[string]http.HandlerFunc{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})
		h, ok := f.handlers[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = h
}

func (f *fakeServer) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSubmitPresignsThenUploads(t *testing.T) {
	f := newFakeServer(t)
	f.handle(http.MethodPost, "/sessions/S1/uploads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, usecase.PresignedUpload{Key: "S1/id-front.jpg", UploadURL: f.server.URL + "/bucket/S1/id-front.jpg"})
	})
	f.handle(http.MethodPut, "/bucket/S1/id-front.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := New(f.server.URL, "tok", WithHTTPClient(f.server.Client()))

	key, err := client.Submit(context.Background(), "S1", capture.Artifact{
		Side:        session.SideFront,
		Kind:        session.KindIDFront,
		ContentType: "image/jpeg",
		Data:        []byte("jpeg-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "S1/id-front.jpg", key)

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer tok", reqs[0].auth)
	assert.JSONEq(t, `{"kind":"id-front","content_type":"image/jpeg"}`, string(reqs[0].body))
	assert.Equal(t, http.MethodPut, reqs[1].method)
	assert.Equal(t, "image/jpeg", reqs[1].contentType)
	assert.Empty(t, reqs[1].auth)
	assert.Equal(t, "jpeg-bytes", string(reqs[1].body))
}

func TestSubmitSurfacesServerError(t *testing.T) {
	f := newFakeServer(t)
	f.handle(http.MethodPost, "/sessions/S1/uploads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session is not waiting"})
	})
	client := New(f.server.URL, "tok", WithHTTPClient(f.server.Client()))

	_, err := client.Submit(context.Background(), "S1", capture.Artifact{Kind: session.KindIDBack, ContentType: "image/jpeg"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.Code)
	assert.Equal(t, "session is not waiting", statusErr.Message)
	assert.Len(t, f.recorded(), 1)
}

func TestSubmitFailsOnRejectedUpload(t *testing.T) {
	f := newFakeServer(t)
	f.handle(http.MethodPost, "/sessions/S1/uploads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, usecase.PresignedUpload{Key: "S1/id-back.jpg", UploadURL: f.server.URL + "/bucket/expired"})
	})
	f.handle(http.MethodPut, "/bucket/expired", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	client := New(f.server.URL, "tok", WithHTTPClient(f.server.Client()))

	_, err := client.Submit(context.Background(), "S1", capture.Artifact{Kind: session.KindIDBack, ContentType: "image/jpeg", Data: []byte("x")})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestVerifyReturnsBusinessOutcome(t *testing.T) {
	f := newFakeServer(t)
	f.handle(http.MethodPost, "/sessions/S1/verify", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "status": "failed", "error": "face comparison failed", "confidence": 60})
	})
	client := New(f.server.URL, "tok", WithHTTPClient(f.server.Client()))

	outcome, err := client.Verify(context.Background(), usecase.PipelineRequest{SessionID: "S1", IDFrontKey: "a", IDBackKey: "b"})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, session.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Confidence)
	assert.Equal(t, 60.0, *outcome.Confidence)
}

func TestSetStatusAndLiveness(t *testing.T) {
	f := newFakeServer(t)
	f.handle(http.MethodPost, "/sessions/S1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, usecase.SessionView{ID: "S1", Status: session.StatusFailed, Reason: "camera permission denied"})
	})
	f.handle(http.MethodPost, "/sessions/S1/liveness", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"liveness_session_id": "live-1"})
	})
	f.handle(http.MethodPost, "/sessions/S1/debug/variance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	client := New(f.server.URL+"/", "tok", WithHTTPClient(f.server.Client()))

	view, err := client.SetStatus(context.Background(), "S1", session.StatusFailed, "camera permission denied")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, view.Status)

	handle, err := client.CreateLivenessSession(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "live-1", handle)

	require.NoError(t, client.ReportVariance(context.Background(), "S1", session.SideBack, 120.5, 1700000000000))

	reqs := f.recorded()
	require.Len(t, reqs, 3)
	assert.JSONEq(t, `{"status":"failed","reason":"camera permission denied"}`, string(reqs[0].body))
	assert.Empty(t, reqs[1].body)
	assert.JSONEq(t, `{"variance":120.5,"side":"back","timestamp":1700000000000}`, string(reqs[2].body))
}
