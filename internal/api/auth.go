package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ernie/mcauth/internal/auth"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type contextKey int

const loggerKey contextKey = iota

// requestLogger returns the logger tagged with the request id
func requestLogger(req *http.Request) *log.Entry {
	if entry, ok := req.Context().Value(loggerKey).(*log.Entry); ok {
		return entry
	}
	return log.NewEntry(log.StandardLogger())
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack lets the WebSocket upgrader take over the connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// logRequest tags the request with a fresh id and logs it on entry and exit
func logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		entry := log.WithFields(log.Fields{
			"request_id": uuid.NewString(),
			"method":     req.Method,
			"path":       req.URL.Path,
		})
		entry.WithFields(log.Fields{
			"user_agent":   req.UserAgent(),
			"content_type": req.Header.Get("Content-Type"),
		}).Debug("Incoming request")

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, req.WithContext(context.WithValue(req.Context(), loggerKey, entry)))

		entry.WithField("status", rec.status).Info("Request handled")
	}
}

// requireScope rejects requests whose bearer token does not grant scope.
// Rejections carry no body.
func (r *Router) requireScope(scope auth.Scope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if _, status, err := r.auth.Authorize(req, scope); err != nil {
			requestLogger(req).WithError(err).Debug("Request rejected")
			w.WriteHeader(status)
			return
		}
		next(w, req)
	}
}
