// Package server exposes the HTTP API: the live-status WebSocket relay, Twitch
// login with cookie sessions, user administration, clips and challenges,
// health, status and metrics.
// It applies CORS for the frontend and injects correlation IDs into request
// contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miwitv/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds rate limiter cleanup and open relay sessions.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()
	rateLimiter := newIPRateLimiter(ctx, rateLimiterCfg)

	handlers := NewHandlers(ctx, deps)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	// Live status relay
	mux.HandleFunc("/ws/", handlers.HandleRelay)

	// Login (rate limited per client IP)
	mux.Handle("/login", rateLimitMiddleware(http.HandlerFunc(handlers.HandleLogin), rateLimiter))
	mux.Handle("/auth/callback", rateLimitMiddleware(http.HandlerFunc(handlers.HandleAuthCallback), rateLimiter))
	mux.HandleFunc("/logout", handlers.HandleLogout)

	// Users (cookie session required)
	mux.Handle("/user/me", requireSession(http.HandlerFunc(handlers.HandleUserMe), deps.Signer))
	mux.Handle("/user/all", requireSession(http.HandlerFunc(handlers.HandleUserAll), deps.Signer))
	mux.Handle("/user/update", requireSession(http.HandlerFunc(handlers.HandleUserUpdate), deps.Signer))

	// Clips
	mux.Handle("POST /clip/sync_clips", requireSession(http.HandlerFunc(handlers.HandleClipSync), deps.Signer))
	mux.Handle("GET /clip/my_liked_clips", requireSession(http.HandlerFunc(handlers.HandleMyLikedClips), deps.Signer))
	mux.Handle("GET /clip/all", optionalSession(http.HandlerFunc(handlers.HandleClipAll), deps.Signer))
	mux.Handle("POST /clip/like/{clip_id}", requireSession(http.HandlerFunc(handlers.HandleClipLike), deps.Signer))
	mux.Handle("POST /clip/block/{clip_id}", requireSession(http.HandlerFunc(handlers.HandleClipBlock), deps.Signer))

	// Challenges
	mux.HandleFunc("GET /challenge/all", handlers.HandleChallengeAll)
	mux.Handle("POST /challenge/create", requireSession(http.HandlerFunc(handlers.HandleChallengeCreate), deps.Signer))
	mux.Handle("PUT /challenge/task/{id}", requireSession(http.HandlerFunc(handlers.HandleChallengeTask), deps.Signer))
	mux.Handle("PUT /challenge/subchallenge/{id}", requireSession(http.HandlerFunc(handlers.HandleChallengeSubChallenge), deps.Signer))
	mux.Handle("PUT /challenge/update/{id}", requireSession(http.HandlerFunc(handlers.HandleChallengeUpdate), deps.Signer))
	mux.Handle("DELETE /challenge/delete/{id}", requireSession(http.HandlerFunc(handlers.HandleChallengeDelete), deps.Signer))

	// Health, readiness and status
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		route := routeLabel(r.URL.Path)
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// Path prefixes whose last segment is an identifier.
var routeParams = []struct{ prefix, label string }{
	{"/ws/", "/ws/{login}"},
	{"/clip/like/", "/clip/like/{clip_id}"},
	{"/clip/block/", "/clip/block/{clip_id}"},
	{"/challenge/task/", "/challenge/task/{id}"},
	{"/challenge/subchallenge/", "/challenge/subchallenge/{id}"},
	{"/challenge/update/", "/challenge/update/{id}"},
	{"/challenge/delete/", "/challenge/delete/{id}"},
}

// routeLabel maps a request path to a low-cardinality span route.
func routeLabel(path string) string {
	for _, p := range routeParams {
		if strings.HasPrefix(path, p.prefix) {
			return p.label
		}
	}
	return path
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack implements http.Hijacker so WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// Relay sessions observe the same context and close their sockets on shutdown.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
