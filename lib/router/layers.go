// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/continuwuity/continuwuity-sub001/lib/apierror"
	"github.com/continuwuity/continuwuity-sub001/lib/metrics"
)

const (
	contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; form-action 'none'; base-uri 'none'; sandbox"
	permissionsPolicy     = "interest-cohort=(),browsing-topics=()"

	corsAllowMethods = "GET, HEAD, PATCH, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Origin, X-Requested-With, Content-Type, Accept, Authorization"
	corsMaxAge       = "86400"

	panicMessage = "M_UNKNOWN: Internal server error occurred"
)

// observe opens a server span and records request metrics. The span
// is renamed to the matched route pattern once routing has happened.
func observe(state State, tracer trace.Tracer, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	generationID := int64(state.Generation.ID())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.Int64("continuwuity.generation", generationID),
				),
			)
			defer span.End()

			m.RequestStarted()
			recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			status := recorder.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)
			m.RequestFinished(r.Method, status, duration)

			if routeContext := chi.RouteContext(ctx); routeContext != nil {
				if pattern := routeContext.RoutePattern(); pattern != "" {
					span.SetName(r.Method + " " + pattern)
					span.SetAttributes(attribute.String("http.route", pattern))
				}
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			logger.DebugContext(ctx, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", duration,
				"request_id", middleware.GetReqID(ctx),
			)
		})
	}
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Content-Security-Policy", contentSecurityPolicy)
		header.Set("Permissions-Policy", permissionsPolicy)
		header.Set("Origin-Agent-Cluster", "?1")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-XSS-Protection", "0")
		header.Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// cors allows any origin. A preflight (OPTIONS carrying both Origin
// and Access-Control-Request-Method) is answered here with 204; any
// other OPTIONS falls through to the route table.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", corsAllowMethods)
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		header.Set("Access-Control-Max-Age", corsMaxAge)

		if r.Method == http.MethodOptions &&
			r.Header.Get("Origin") != "" &&
			r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody rejects requests whose declared length exceeds limit and
// caps the body reader for the rest.
func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				if r.ContentLength > limit {
					apierror.Write(w, nil, apierror.New(http.StatusRequestEntityTooLarge,
						apierror.CodeTooLarge, "Request body too large."))
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// catchPanic turns a handler panic into a 500 M_UNKNOWN response.
// http.ErrAbortHandler is re-raised so net/http can abort the
// connection.
func catchPanic(m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				m.Panic()

				details := panicDetails(recovered)
				logger.ErrorContext(r.Context(), "handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", details,
					"stack", string(debug.Stack()),
				)
				apierror.WriteJSON(w, logger, http.StatusInternalServerError, &apierror.MatrixError{
					Code:    apierror.CodeUnknown,
					Message: panicMessage,
					Details: details,
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func panicDetails(recovered any) string {
	switch value := recovered.(type) {
	case string:
		return value
	case error:
		return value.Error()
	case fmt.Stringer:
		return value.String()
	default:
		return "Unknown internal server error occurred."
	}
}
