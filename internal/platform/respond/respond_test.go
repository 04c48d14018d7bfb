package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	applog "github.com/janisto/message-server/internal/platform/logging"
	appmiddleware "github.com/janisto/message-server/internal/platform/middleware"
)

func decodeJSONProblem(t *testing.T, resp *httptest.ResponseRecorder) huma.ErrorModel {
	t.Helper()
	if ct := resp.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
		t.Fatalf("expected %s, got %q", ContentTypeProblemJSON, ct)
	}
	var problem huma.ErrorModel
	if err := json.Unmarshal(resp.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to unmarshal problem: %v", err)
	}
	return problem
}

func TestNotFoundHandlerReturnsProblemDetails(t *testing.T) {
	resp := httptest.NewRecorder()
	NotFoundHandler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	problem := decodeJSONProblem(t, resp)
	if problem.Status != http.StatusNotFound || problem.Title != "Not Found" {
		t.Fatalf("unexpected problem: %+v", problem)
	}
	if problem.Detail != "resource not found" {
		t.Fatalf("unexpected detail: %s", problem.Detail)
	}
	if problem.Instance != "/missing" {
		t.Fatalf("expected instance /missing, got %q", problem.Instance)
	}
}

func TestMethodNotAllowedHandlerReturnsProblemDetails(t *testing.T) {
	router := chi.NewRouter()
	router.MethodNotAllowed(MethodNotAllowedHandler(http.MethodGet, http.MethodHead))
	router.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != "GET, HEAD" {
		t.Fatalf("expected Allow 'GET, HEAD', got %q", allow)
	}
	problem := decodeJSONProblem(t, resp)
	if problem.Status != http.StatusMethodNotAllowed || problem.Title != "Method Not Allowed" {
		t.Fatalf("unexpected problem: %+v", problem)
	}
	if !strings.Contains(problem.Detail, "POST") {
		t.Fatalf("expected detail to mention POST, got %s", problem.Detail)
	}
}

func TestRecovererReturnsProblemDetails(t *testing.T) {
	h := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	problem := decodeJSONProblem(t, resp)
	if problem.Title != "Internal Server Error" || problem.Detail != "internal server error" {
		t.Fatalf("unexpected problem: %+v", problem)
	}
}

func TestRecovererRePanicsOnErrAbortHandler(t *testing.T) {
	h := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected http.ErrAbortHandler to be re-panicked, got %v", rec)
		}
	}()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("expected panic to propagate, but handler returned normally")
}

func TestRecovererSkipsWriteWhenHeaderAlreadyWritten(t *testing.T) {
	h := Recoverer()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial response"))
		panic("panic after write")
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected original 200 status to be preserved, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "partial response" {
		t.Fatalf("expected original body to be preserved, got %q", body)
	}
}

func TestResponseWriterMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}
	if rw.wroteHeader {
		t.Fatal("expected wroteHeader to be false initially")
	}
	n, err := rw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("unexpected write result: %d, %v", n, err)
	}
	if !rw.wroteHeader {
		t.Fatal("expected wroteHeader to be true after Write")
	}
	if rw.Unwrap() != rec {
		t.Fatal("expected Unwrap to return underlying ResponseWriter")
	}
}

func TestProblemContentTypeNegotiation(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"", ContentTypeProblemJSON},
		{"application/json", ContentTypeProblemJSON},
		{"application/cbor", ContentTypeProblemCBOR},
		{"application/problem+cbor", ContentTypeProblemCBOR},
		{"application/cbor;q=0.1, application/json", ContentTypeProblemJSON},
		{"application/json;q=0.5, application/cbor", ContentTypeProblemCBOR},
		{"text/html", ContentTypeProblemJSON},
	}
	for _, tt := range tests {
		if got := problemContentType(tt.accept); got != tt.want {
			t.Errorf("problemContentType(%q) = %q, want %q", tt.accept, got, tt.want)
		}
	}
}

func TestMethodNotAllowedReturnsCBORWhenAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/x", nil)
	req.Header.Set("Accept", "application/cbor")
	resp := httptest.NewRecorder()
	MethodNotAllowedHandler(http.MethodGet).ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != ContentTypeProblemCBOR {
		t.Fatalf("expected %s, got %q", ContentTypeProblemCBOR, ct)
	}
	var problem huma.ErrorModel
	if err := cbor.Unmarshal(resp.Body.Bytes(), &problem); err != nil {
		t.Fatalf("cbor unmarshal: %v", err)
	}
	if problem.Status != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", problem.Status)
	}
}

func TestVaryHeaderNoDuplicates(t *testing.T) {
	resp := httptest.NewRecorder()
	resp.Header().Add("Vary", "Origin, Accept")
	NotFoundHandler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	count := 0
	for _, v := range resp.Header().Values("Vary") {
		for part := range strings.SplitSeq(v, ",") {
			if strings.TrimSpace(part) == "Accept" {
				count++
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected Accept exactly once in Vary, got %d (%v)", count, resp.Header().Values("Vary"))
	}
}

func TestJSONProblemHasNoHTMLEscaping(t *testing.T) {
	resp := httptest.NewRecorder()
	WriteProblem(resp, httptest.NewRequest(http.MethodGet, "/x", nil), http.StatusNotFound, "a<b>&c")

	if body := resp.Body.String(); !strings.Contains(body, "a<b>&c") {
		t.Fatalf("expected unescaped detail, got %s", body)
	}
}

func TestRecovererLogsTraceID(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	observed := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(applog.ContextWithLogger(r.Context(), zap.New(core))))
		})
	}

	router := chi.NewRouter()
	router.Use(
		appmiddleware.RequestID(),
		applog.RequestLogger(),
		observed,
		Recoverer(),
	)
	router.Get("/", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "panic-req")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	entries := recorded.FilterMessage("panic recovered").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 panic entry, got %d", len(entries))
	}
	fields := map[string]zap.Field{}
	for _, f := range entries[0].Context {
		fields[f.Key] = f
	}
	if f := fields["traceId"]; f.String != "panic-req" {
		t.Fatalf("expected traceId panic-req, got %+v", f)
	}
	if f := fields["status"]; f.Integer != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %+v", f)
	}
}
