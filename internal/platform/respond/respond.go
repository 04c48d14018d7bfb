// Package respond renders RFC 9457 problem details for requests the message handler does not serve.
package respond

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/negotiation"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	applog "github.com/janisto/message-server/internal/platform/logging"
)

const (
	ContentTypeProblemJSON = "application/problem+json"
	ContentTypeProblemCBOR = "application/problem+cbor"

	msgNotFound          = "resource not found"
	msgInternalServerErr = "internal server error"
)

var acceptable = []string{
	ContentTypeProblemJSON,
	"application/json",
	ContentTypeProblemCBOR,
	"application/cbor",
}

// problemContentType picks the problem media type for an Accept header. JSON is the default.
func problemContentType(accept string) string {
	if strings.TrimSpace(accept) == "" {
		return ContentTypeProblemJSON
	}
	switch negotiation.SelectQValueFast(accept, acceptable) {
	case ContentTypeProblemCBOR, "application/cbor":
		return ContentTypeProblemCBOR
	default:
		return ContentTypeProblemJSON
	}
}

func encodeProblem(ct string, model *huma.ErrorModel) ([]byte, error) {
	if ct == ContentTypeProblemCBOR {
		return cbor.Marshal(model)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(model); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// addVary appends value to the Vary header unless it is already listed.
func addVary(h http.Header, value string) {
	for _, v := range h.Values("Vary") {
		for part := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return
			}
		}
	}
	h.Add("Vary", value)
}

// logFields carries the status and the request's correlation ID into error logs.
func logFields(r *http.Request, status int) []zap.Field {
	fields := []zap.Field{zap.Int("status", status)}
	if traceID := applog.TraceIDFromContext(r.Context()); traceID != "" {
		fields = append(fields, zap.String("traceId", traceID))
	}
	return fields
}

// WriteProblem writes a problem-details body for status, negotiated from the request's Accept header.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	ct := problemContentType(r.Header.Get("Accept"))
	model := &huma.ErrorModel{
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	body, err := encodeProblem(ct, model)
	if err != nil {
		applog.LogError(r.Context(), "failed to encode problem", err, logFields(r, status)...)
		http.Error(w, http.StatusText(status), status)
		return
	}

	h := w.Header()
	addVary(h, "Accept")
	h.Set("Content-Type", ct)
	h.Del("Content-Length")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		applog.LogError(r.Context(), "failed to write problem", err, logFields(r, status)...)
	}
}

// NotFoundHandler emits a problem-details 404 response.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, msgNotFound)
	}
}

// MethodNotAllowedHandler emits a problem-details 405 response listing allowed in the Allow header.
func MethodNotAllowedHandler(allowed ...string) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		if allow != "" {
			w.Header().Set("Allow", allow)
		}
		applog.LogInfo(r.Context(), "method not allowed", zap.String("method", r.Method), zap.String("allow", allow))
		WriteProblem(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

// responseWriter records whether the status line has been sent.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Recoverer converts panics into problem-details 500 responses.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				fields := append(logFields(r, http.StatusInternalServerError), zap.ByteString("stack", debug.Stack()))
				applog.LogError(r.Context(), "panic recovered", fmt.Errorf("%v", rec), fields...)
				if rw.wroteHeader {
					return
				}
				WriteProblem(rw, r, http.StatusInternalServerError, msgInternalServerErr)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
