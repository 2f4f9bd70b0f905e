package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trybe-fintech/reconciler-backend/internal/api/httpx"
	"github.com/trybe-fintech/reconciler-backend/internal/api/validate"
	"github.com/trybe-fintech/reconciler-backend/internal/config"
	"github.com/trybe-fintech/reconciler-backend/internal/middleware"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
	"github.com/trybe-fintech/reconciler-backend/internal/services"
)

type RouterDeps struct {
	Cfg       config.Config
	Queries   *services.QueryService
	Reconcile *services.ReconcileService
	Wallets   *services.WalletService
	Reports   *services.ReportService
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// resolve one floating transaction for one user
		r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				UserID        string `json:"user_id"`
				TransactionID string `json:"transaction_id"`
			}
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
				return
			}
			var errs validate.Errs
			if e := validate.Required("user_id", req.UserID); e != nil {
				errs = append(errs, *e)
			}
			if e := validate.Required("transaction_id", req.TransactionID); e != nil {
				errs = append(errs, *e)
			}
			if len(errs) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
				return
			}

			outcome, err := d.Reconcile.Resolve(r.Context(), req.UserID, req.TransactionID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, outcome)
		})

		// per-user ledger slice with resolved statuses and retry lineage
		r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
			uid := r.URL.Query().Get("user_id")
			if uid == "" {
				httpx.WriteError(w, http.StatusBadRequest, "validation", "user_id required", nil)
				return
			}
			limit := 100
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "validation", "limit must be an integer", nil)
					return
				}
				if e := validate.MinInt("limit", int64(n), 1); e != nil {
					httpx.WriteError(w, http.StatusBadRequest, "validation", e.Field+": "+e.Msg, nil)
					return
				}
				limit = n
			}
			views, err := d.Queries.ListForUser(r.Context(), uid, limit)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, views)
		})

		r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
			uid := r.URL.Query().Get("user_id")
			if uid == "" {
				httpx.WriteError(w, http.StatusBadRequest, "validation", "user_id required", nil)
				return
			}
			view, err := d.Queries.GetForUser(r.Context(), uid, chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, view)
		})

		r.Get("/wallets/{user_id}", func(w http.ResponseWriter, r *http.Request) {
			u, err := d.Wallets.Balance(r.Context(), chi.URLParam(r, "user_id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, u)
		})

		r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
			txnID := r.URL.Query().Get("transaction_id")
			if txnID == "" {
				httpx.WriteError(w, http.StatusBadRequest, "validation", "transaction_id required", nil)
				return
			}
			reps, err := d.Reports.ListByTransaction(r.Context(), txnID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, reps)
		})
	})

	return r
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, services.ErrNotOriginal), errors.Is(err, services.ErrNotRetry):
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, services.ErrAlreadySettled):
		httpx.WriteError(w, http.StatusConflict, "already_settled", err.Error(), nil)
	case errors.Is(err, repo.ErrStoreUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "temporarily unavailable", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
