package app

import (
	"net/http"

	chatapi "courier/cmd/internal/chat/api"
	"courier/cmd/internal/realtime"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	store Store,
	metricsHandler http.Handler,
	api *chatapi.Handler,
	ws *realtime.WSGateway,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && store.Backend() == BackendMemory {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "backend", store.Backend(), "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	if api != nil {
		api.Register(mux)
	}

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
}
