package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/store"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored prices over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx, "")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the read API over st.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/prices", func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		recs, err := st.ListPrices(r.Context(), filter)
		if err != nil {
			zap.L().Error("list prices failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list prices failed")
			return
		}
		docs := make([]model.PriceDocument, len(recs))
		for i, rec := range recs {
			docs[i] = rec.Document()
		}
		writeJSON(w, http.StatusOK, docs)
	})

	r.Get("/prices/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		rec, err := st.GetPrice(r.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "price not found")
			return
		}
		if err != nil {
			zap.L().Error("get price failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get price failed")
			return
		}
		writeJSON(w, http.StatusOK, rec.Document())
	})

	r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
		s, err := st.LatestSummary(r.Context())
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no summary yet")
			return
		}
		if err != nil {
			zap.L().Error("latest summary failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "latest summary failed")
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	return r
}

func parseFilter(r *http.Request) (store.PriceFilter, error) {
	q := r.URL.Query()
	f := store.PriceFilter{
		Jeweller: model.Jeweller(q.Get("jeweller")),
		City:     model.City(q.Get("city")),
	}
	if c := q.Get("carat"); c != "" {
		carat, ok := validate.ParseCarat(c)
		if !ok {
			return f, fmt.Errorf("unknown carat %q", c)
		}
		f.Carat = carat
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		day, err := time.Parse(model.DateLayout, v)
		if err != nil {
			return f, fmt.Errorf("%s must be YYYY-MM-DD", name)
		}
		*dst = day
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
