package root

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"

	"github.com/janisto/welcome-api/internal/platform/respond"
)

const (
	// DefaultTitle is the OpenAPI title used when Options.Title is empty.
	DefaultTitle = "Welcome API"
	// DocsPath is where the API reference UI is served, relative to the router.
	DocsPath = "/api-docs"
)

// ErrInvalidMount is wrapped by NewRouter when Options.Mounts is malformed.
var ErrInvalidMount = errors.New("invalid mount")

// Options configures NewRouter.
type Options struct {
	// Title is the OpenAPI document title.
	Title string
	// Prefix is the public path the router is mounted at, e.g. "/api". It becomes
	// the OpenAPI server URL so generated links and schema references resolve.
	Prefix string
	// Mounts attaches externally built handlers below the router, keyed by path.
	Mounts map[string]http.Handler
}

// NewRouter builds the mountable API router: its own Huma API and OpenAPI
// document, problem-details 404 and 405 handlers, GET /, and any extra mounts.
func NewRouter(opts Options) (chi.Router, error) {
	mounts, err := validateMounts(opts.Mounts)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(respond.SchemaPrefix(opts.Prefix))
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandlerFor(router))

	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	cfg := huma.DefaultConfig(title, Version)
	cfg.DocsPath = DocsPath
	// The default hooks add a $schema field and a describedBy Link to every
	// response body. The welcome payload is exactly message, version, timestamp.
	cfg.CreateHooks = nil
	if opts.Prefix != "" {
		cfg.Servers = []*huma.Server{{URL: opts.Prefix}}
	}
	api := humachi.New(router, cfg)
	addCBORContent(api)

	Register(api)

	for _, path := range mounts {
		router.Mount(strings.TrimRight(path, "/"), opts.Mounts[path])
	}
	return router, nil
}

// addCBORContent advertises application/cbor next to application/json for every
// operation. Huma already negotiates CBOR; this only updates the document.
func addCBORContent(api huma.API) {
	api.OpenAPI().OnAddOperation = append(api.OpenAPI().OnAddOperation,
		func(_ *huma.OpenAPI, op *huma.Operation) {
			if op.RequestBody != nil && op.RequestBody.Content != nil {
				if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
					op.RequestBody.Content["application/cbor"] = jsonContent
				}
			}
			for _, resp := range op.Responses {
				if resp.Content == nil {
					continue
				}
				if jsonContent, ok := resp.Content["application/json"]; ok {
					resp.Content["application/cbor"] = jsonContent
				}
			}
		},
	)
}

// validateMounts returns the mount paths in a stable order.
func validateMounts(mounts map[string]http.Handler) ([]string, error) {
	paths := make([]string, 0, len(mounts))
	seen := make(map[string]string, len(mounts))
	for path, h := range mounts {
		switch {
		case !strings.HasPrefix(path, "/"):
			return nil, fmt.Errorf("%w %q: must start with /", ErrInvalidMount, path)
		case strings.TrimRight(path, "/") == "":
			return nil, fmt.Errorf("%w %q: cannot replace the router root", ErrInvalidMount, path)
		case strings.ContainsAny(path, "*{}"):
			return nil, fmt.Errorf("%w %q: patterns are not allowed", ErrInvalidMount, path)
		case h == nil:
			return nil, fmt.Errorf("%w %q: nil handler", ErrInvalidMount, path)
		}
		key := strings.TrimRight(path, "/")
		if isReserved(key) {
			return nil, fmt.Errorf("%w %q: path is served by the API itself", ErrInvalidMount, path)
		}
		if other, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w %q: duplicates %q", ErrInvalidMount, path, other)
		}
		seen[key] = path
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// isReserved reports whether path collides with the documentation routes Huma registers.
func isReserved(path string) bool {
	if path == DocsPath {
		return true
	}
	for _, p := range []string{"/openapi", "/schemas"} {
		if path == p || strings.HasPrefix(path, p+".") || strings.HasPrefix(path, p+"-") || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
