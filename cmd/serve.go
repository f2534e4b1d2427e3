package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/processor"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for processing requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		mux.HandleFunc("POST /webhook/process", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ContactID string `json:"contact_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}

			if req.ContactID == "" {
				http.Error(w, `{"error":"contact_id is required"}`, http.StatusBadRequest)
				return
			}

			runID := "webhook-" + uuid.NewString()[:8]

			// Process asynchronously; claim coordination keeps concurrent
			// webhooks for the same contact safe.
			go func() {
				runner := processor.NewRunner(env.proc, env.claimer, nil, 1)
				summary, err := runner.Run(ctx, runID, []string{req.ContactID})
				if err != nil {
					zap.L().Error("webhook processing failed",
						zap.String("contact_id", req.ContactID),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("webhook processing complete",
					zap.String("contact_id", req.ContactID),
					zap.Int("batches_completed", summary.BatchesCompleted),
					zap.Int("batches_failed", summary.BatchesFailed),
				)
			}()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{
				"status":     "accepted",
				"contact_id": req.ContactID,
				"run_id":     runID,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
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
