package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crm-call-service/internal/app"
	"crm-call-service/internal/observability/metrics"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()
	h := &handlers{app: application}

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(recordRequests(metrics.DefaultMetrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/calls", func(r chi.Router) {
			r.Post("/", h.startCall)
			r.Get("/", h.listCalls)
			r.Get("/{id}", h.getCall)
			r.Get("/{id}/transcript", h.getTranscript)
			r.Post("/{id}/intents", h.applyIntent)
		})
		r.Get("/call-records", h.callRecords)
		r.Get("/call-history", h.callHistory)

		r.Get("/customers", h.listCustomers)
		r.Post("/customers", h.createCustomer)
		r.Get("/documents", h.listDocuments)
		r.Post("/documents", h.uploadDocument)
		r.Post("/voice-clone", h.clone("voice"))
		r.Post("/video-clone", h.clone("video"))

		r.Post("/extract-context", h.extractContext)

		r.Get("/provider-config", h.getProviderConfig)
		r.Put("/provider-config", h.saveProviderConfig)
		r.Post("/provider-config/refresh", h.refreshProviderConfig)
	})

	return r
}

// recordRequests counts requests by route pattern and status code.
func recordRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTPRequest(route, strconv.Itoa(status))
		})
	}
}
