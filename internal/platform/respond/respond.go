// Package respond renders RFC 9457 problem details for responses produced outside
// Huma operations: router-level 404 and 405, rate limiting, and recovered panics.
// Bodies match the shape Huma uses for its own errors so clients see one format.
package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/negotiation"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/janisto/welcome-api/internal/platform/logging"
)

const (
	contentTypeProblemJSON = "application/problem+json"
	contentTypeProblemCBOR = "application/problem+cbor"

	errorSchemaPath = "/schemas/ErrorModel.json"

	msgNotFound          = "resource not found"
	msgTooManyRequests   = "rate limit exceeded"
	msgInternalServerErr = "internal server error"
	msgMethodNotAllowed  = "method %s not allowed"
)

// acceptable lists the media types a client may ask for. Anything else,
// including wildcards, falls back to JSON.
var acceptable = []string{
	"application/json",
	contentTypeProblemJSON,
	"application/cbor",
	contentTypeProblemCBOR,
}

type ctxSchemaPrefixKey struct{}

// SchemaPrefix records the path under which the API serves its JSON schemas,
// e.g. "/api", for problems written further down the chain. It is used to
// build the $schema field and the describedBy link.
func SchemaPrefix(prefix string) func(http.Handler) http.Handler {
	p := strings.TrimSuffix(prefix, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ctxSchemaPrefixKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// problem mirrors huma.ErrorModel plus the $schema field Huma adds to its own bodies.
type problem struct {
	Schema   string              `json:"$schema,omitempty"`
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   []*huma.ErrorDetail `json:"errors,omitempty"`
}

// NotFoundHandler renders a 404 problem.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, msgNotFound)
	}
}

// MethodNotAllowedHandler renders a 405 problem and advertises the methods the
// matched path does support in the Allow header. Methods are looked up in the
// router that is serving the request.
func MethodNotAllowedHandler() http.HandlerFunc {
	return MethodNotAllowedHandlerFor(nil)
}

// MethodNotAllowedHandlerFor is MethodNotAllowedHandler for a router that is
// mounted under another one. chi keeps the parent in the route context, so the
// sub-router has to be passed explicitly for Allow to be computed.
func MethodNotAllowedHandlerFor(routes chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if allow := allowedMethods(r, routes); len(allow) > 0 {
			w.Header().Set("Allow", strings.Join(allow, ", "))
		}
		WriteProblem(w, r, http.StatusMethodNotAllowed, fmt.Sprintf(msgMethodNotAllowed, r.Method))
	}
}

// TooManyRequestsHandler renders a 429 problem. Retry-After is set to retryAfter,
// rounded up to whole seconds, unless an earlier handler already set it.
func TooManyRequestsHandler(retryAfter time.Duration) http.HandlerFunc {
	seconds := strconv.Itoa(int(math.Ceil(retryAfter.Seconds())))
	return func(w http.ResponseWriter, r *http.Request) {
		if retryAfter > 0 && w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", seconds)
		}
		WriteProblem(w, r, http.StatusTooManyRequests, msgTooManyRequests)
	}
}

// Recoverer converts panics into 500 problem responses. http.ErrAbortHandler is
// re-panicked so net/http can abort the connection. If the handler already wrote
// a status line, only the panic is logged.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared as panic value
					panic(rec)
				}
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				logging.LogError(r.Context(), "panic recovered", err, zap.ByteString("stack", debug.Stack()))
				if rw.wroteHeader {
					return
				}
				WriteProblem(rw, r, http.StatusInternalServerError, msgInternalServerErr)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// WriteProblem writes a problem details body in the format the client prefers.
// 5xx statuses are logged at error level, everything else at warn.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string, errs ...*huma.ErrorDetail) {
	schema := schemaURL(r)
	body := problem{
		Schema: schema,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Errors: errs,
	}

	contentType, payload, err := encode(r, body)
	if err != nil {
		logging.LogError(r.Context(), "failed to encode problem", err, zap.Int("status", status))
		http.Error(w, detail, status)
		return
	}

	h := w.Header()
	addVary(h, "Origin", "Accept")
	h.Set("Content-Type", contentType)
	h.Set("Link", "<"+schema+`>; rel="describedBy"`)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logging.LogWarn(r.Context(), "failed to write problem", zap.Error(err))
	}

	logProblem(r.Context(), status, detail)
}

func encode(r *http.Request, body problem) (string, []byte, error) {
	if prefersCBOR(r) {
		b, err := cbor.Marshal(body)
		return contentTypeProblemCBOR, b, err
	}
	b, err := json.Marshal(body)
	return contentTypeProblemJSON, b, err
}

// prefersCBOR reports whether the Accept header's highest-q supported type is CBOR.
// Ties keep header order, so "application/json, application/cbor" yields JSON.
func prefersCBOR(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return strings.HasSuffix(negotiation.SelectQValueFast(accept, acceptable), "cbor")
}

func schemaURL(r *http.Request) string {
	prefix, _ := r.Context().Value(ctxSchemaPrefixKey{}).(string)
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "https" || fwd == "http" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + prefix + errorSchemaPath
}

// addVary appends values to the Vary header, skipping any already present.
func addVary(h http.Header, values ...string) {
	present := map[string]struct{}{}
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			present[strings.ToLower(strings.TrimSpace(part))] = struct{}{}
		}
	}
	for _, v := range values {
		if _, ok := present[strings.ToLower(v)]; ok {
			continue
		}
		h.Add("Vary", v)
		present[strings.ToLower(v)] = struct{}{}
	}
}

// allowedMethods asks chi's route tree which methods match the request path.
// routes defaults to the router recorded in the route context.
func allowedMethods(r *http.Request, routes chi.Routes) []string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	if routes == nil {
		routes = rctx.Routes
	}
	if routes == nil {
		return nil
	}

	routePath := rctx.RoutePath
	if routePath == "" {
		routePath = r.URL.RawPath
		if routePath == "" {
			routePath = r.URL.Path
		}
		if routePath == "" {
			routePath = "/"
		}
	}

	methods := []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	allowed := make([]string, 0, len(methods))
	for _, method := range methods {
		if routes.Match(chi.NewRouteContext(), method, routePath) {
			allowed = append(allowed, method)
		}
	}
	return allowed
}

func logProblem(ctx context.Context, status int, detail string) {
	fields := []zap.Field{zap.Int("status", status), zap.String("detail", detail)}
	if status >= http.StatusInternalServerError {
		logging.LogError(ctx, "request failed", nil, fields...)
		return
	}
	logging.LogWarn(ctx, "request rejected", fields...)
}

// responseWriter records whether a status line has been sent.
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
