// Package server implements the BoxDrive HTTP server and S3-compatible
// route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxdrive/boxdrive/internal/config"
	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/handlers"
	"github.com/boxdrive/boxdrive/internal/store"
	"github.com/boxdrive/boxdrive/internal/xmlutil"
)

// Server is the BoxDrive HTTP server. It routes incoming requests to the
// appropriate S3-compatible handler based on request method, path, and
// query parameters.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      store.ObjectStore
	bucket     *handlers.BucketHandler
	object     *handlers.ObjectHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server wired to the given store and registers all
// S3-compatible routes on a Chi router with a Huma API for system endpoints.
func New(cfg *config.Config, s store.ObjectStore) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("BoxDrive S3 API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	srv := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		store:  s,
		bucket: handlers.NewBucketHandler(s, cfg.Server.OwnerID, cfg.Server.OwnerID, cfg.Server.Region),
		object: handlers.NewObjectHandler(s),
	}

	srv.registerRoutes()
	return srv
}

// ListenAndServe starts the HTTP server on the given address.
// Middleware chain: metricsMiddleware -> commonHeaders -> accessLog -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = accessLog(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = accessLog(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics are registered first; the
// S3 catch-all /* is registered last so Chi matches specific routes first.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the BoxDrive server and its storage backend.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		if err := s.store.HealthCheck(ctx); err != nil {
			return nil, huma.Error503ServiceUnavailable("storage backend unavailable", err)
		}
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Huma registers one method per operation; HEAD is wired separately.
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.HandleFunc("/*", s.dispatch)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}", and
// ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// dispatch routes a request to the matching S3 operation by method, path
// shape, and query parameters. Operations outside the supported surface,
// such as multipart uploads and ACLs, return NotImplemented.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	// Service-level operations (no bucket in path).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.bucket.ListBuckets(w, r)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case q.Has("partNumber") && q.Has("uploadId"),
				q.Has("acl"),
				r.Header.Get("X-Amz-Copy-Source") != "":
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			default:
				s.object.PutObject(w, r)
			}
		case http.MethodGet:
			switch {
			case q.Has("acl"), q.Has("uploadId"):
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			default:
				s.object.GetObject(w, r)
			}
		case http.MethodHead:
			s.object.HeadObject(w, r)
		case http.MethodDelete:
			if q.Has("uploadId") {
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			} else {
				s.object.DeleteObject(w, r)
			}
		case http.MethodPost:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodPut:
		if q.Has("acl") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		} else {
			s.bucket.CreateBucket(w, r)
		}
	case http.MethodGet:
		switch {
		case q.Has("location"):
			s.bucket.GetBucketLocation(w, r)
		case q.Has("acl"), q.Has("uploads"), q.Has("versioning"):
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		case q.Has("list-type"):
			s.object.ListObjectsV2(w, r)
		default:
			s.object.ListObjects(w, r)
		}
	case http.MethodHead:
		s.bucket.HeadBucket(w, r)
	case http.MethodDelete:
		s.bucket.DeleteBucket(w, r)
	case http.MethodPost:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
	}
}
