// Package message serves the configured response message on every path.
package message

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	applog "github.com/janisto/message-server/internal/platform/logging"
)

// ContentType is sent verbatim with every message response.
const ContentType = "text/plain"

// AllowedMethods lists the methods that receive the message.
var AllowedMethods = []string{http.MethodGet, http.MethodHead}

// Handler writes 200, text/plain and message as the body.
// HEAD requests reach it through chi's GetHead middleware; net/http discards the body.
func Handler(message string) http.HandlerFunc {
	body := []byte(message)
	length := strconv.Itoa(len(body))
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", ContentType)
		h.Set("Content-Length", length)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := w.Write(body); err != nil {
			applog.LogError(r.Context(), "failed to write message", err)
			return
		}
		applog.LogDebug(r.Context(), "message served", zap.Int("bytes", len(body)))
	}
}

// Register mounts the message handler so that every path matches.
func Register(router chi.Router, message string) {
	h := Handler(message)
	router.Get("/", h)
	router.Get("/*", h)
}
