package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/stillmind/companionkit/pkg/logger"
)

// HealthCheckHandler serves liveness and readiness probes. With no probe
// functions it always answers 200 "ALIVE". With probes it runs each one and
// answers 200 "READY" only when all succeed; any failure is logged and
// answered with 500 "NOT_READY".
func HealthCheckHandler(ctx context.Context, log *slog.Logger, probes ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(probes) == 0 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ALIVE"))
			return
		}

		for _, probe := range probes {
			if err := probe(ctx); err != nil {
				log.ErrorContext(ctx, "readiness probe failed", logger.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("NOT_READY"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	}
}
