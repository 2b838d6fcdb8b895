package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/scheduler"
)

var servePort int

// buildMux wires the control endpoints over a scheduler. done is closed when
// the background run finishes; summary reads its result and must only be
// called after done is closed.
func buildMux(sched *scheduler.Scheduler, done <-chan struct{}, summary func() *model.Summary) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"pending_retries": sched.PendingRetries(),
		}
		select {
		case <-done:
			resp["state"] = "finished"
			if s := summary(); s != nil {
				resp["summary"] = s
			}
		default:
			resp["state"] = "running"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})

	r.Post("/retries/cancel", func(w http.ResponseWriter, r *http.Request) {
		n := sched.CancelAllRetries()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]int{"cancelled": n})
	})

	r.Post("/retries/{channel}/cancel", func(w http.ResponseWriter, r *http.Request) {
		channel := chi.URLParam(r, "channel")
		if !sched.CancelRetry(channel) {
			http.Error(w, `{"error":"no pending retry for channel"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"cancelled": channel})
	})

	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workbook with a control server for watching and cancelling retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		channels, err := loadChannels()
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		// The run executes in the background; the server stays up until
		// it finishes or the process is signalled.
		done := make(chan struct{})
		var summary *model.Summary
		go func() {
			defer close(done)
			s, err := e.Sched.Run(ctx, channels)
			if err != nil {
				zap.L().Error("scheduler run failed", zap.Error(err))
				return
			}
			summary = s
		}()

		mux := buildMux(e.Sched, done, func() *model.Summary { return summary })

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown once the run completes or a signal arrives.
		go func() {
			select {
			case <-ctx.Done():
			case <-done:
			}
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
