package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/profitsync/internal/auth"
	"github.com/iurnickita/profitsync/internal/handler/config"
	"github.com/iurnickita/profitsync/internal/logger"
	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/profit"
	"github.com/iurnickita/profitsync/internal/scheduler"
	"github.com/iurnickita/profitsync/internal/service/shopifyclient"
	"github.com/iurnickita/profitsync/internal/store"
)

// Trigger is the manual-sync surface of the scheduler.
type Trigger interface {
	Trigger(ctx context.Context) error
	Running() bool
}

// Shop is the part of the commerce API client the HTTP layer needs.
type Shop interface {
	VerifyWebhook(body []byte, signature string) bool
	VerifyCallbackQuery(query url.Values) bool
	AuthCodeURL(shop, state string) string
	ExchangeToken(ctx context.Context, shop, code string) (string, error)
}

type Deps struct {
	Auth      auth.Auth
	Scheduler Trigger
	Store     store.Store
	Profit    profit.Profit
	Shop      Shop
	Metrics   http.Handler
}

const (
	cookieOAuthState = "shopify_oauth_state"
	maxWebhookBody   = 1 << 20
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	defaultPeriod    = 30 * 24 * time.Hour
)

// Serve слушает cfg.ServerAddr до отмены ctx
func Serve(ctx context.Context, cfg config.Config, deps Deps, zaplog *zap.Logger) error {
	h := newHandler(cfg, deps, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type handler struct {
	cfg    config.Config
	deps   Deps
	zaplog *zap.Logger
	now    func() time.Time
}

func newHandler(cfg config.Config, deps Deps, zaplog *zap.Logger) *handler {
	return &handler{
		cfg:    cfg,
		deps:   deps,
		zaplog: zaplog.Named("http"),
		now:    time.Now,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", logger.RequestLogMdlw(h.deps.Auth.Login, h.zaplog))
	mux.HandleFunc("POST /api/logout", logger.RequestLogMdlw(h.deps.Auth.Logout, h.zaplog))
	mux.HandleFunc("POST /api/sync", logger.RequestLogMdlw(h.deps.Auth.Middleware(h.PostSync), h.zaplog))
	mux.HandleFunc("GET /api/sync/runs", logger.RequestLogMdlw(h.deps.Auth.Middleware(h.GetSyncRuns), h.zaplog))
	mux.HandleFunc("GET /api/sync/status", logger.RequestLogMdlw(h.deps.Auth.Middleware(h.GetSyncStatus), h.zaplog))
	mux.HandleFunc("GET /api/profit", logger.RequestLogMdlw(h.deps.Auth.Middleware(h.GetProfit), h.zaplog))
	mux.HandleFunc("GET /api/shopify/install", logger.RequestLogMdlw(h.deps.Auth.Middleware(h.GetInstall), h.zaplog))
	mux.HandleFunc("GET /api/shopify/callback", logger.RequestLogMdlw(h.GetCallback, h.zaplog))
	mux.HandleFunc("POST /api/shopify/webhooks", logger.RequestLogMdlw(h.PostWebhook, h.zaplog))
	if h.deps.Metrics != nil {
		mux.Handle("GET /metrics", h.deps.Metrics)
	}

	return mux
}

type syncJSONResponse struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (h *handler) PostSync(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Scheduler.Trigger(r.Context())
	if err != nil {
		var cooldown *scheduler.CooldownError
		switch {
		case errors.Is(err, scheduler.ErrInProgress):
			writeJSON(w, http.StatusTooManyRequests, syncJSONResponse{Message: "Sync already running"})
		case errors.As(err, &cooldown):
			secs := cooldown.Seconds()
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, syncJSONResponse{
				Message:    "Wait " + strconv.Itoa(secs) + "s before triggering again",
				RetryAfter: secs,
			})
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, syncJSONResponse{OK: true, Message: "Sync started"})
}

type syncRunJSONResponse struct {
	ID             string     `json:"id"`
	Platform       string     `json:"platform"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         string     `json:"status"`
	OrdersUpserted int        `json:"orders_upserted"`
	PayoutsSynced  int        `json:"payouts_synced"`
	FeeLinesSynced int        `json:"fee_lines_synced"`
	ErrorSummary   string     `json:"error_summary,omitempty"`
}

func (h *handler) GetSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.deps.Store.SyncRunList(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	runsJSON := make([]syncRunJSONResponse, 0, len(runs))
	for _, run := range runs {
		runsJSON = append(runsJSON, syncRunJSONResponse{
			ID:             run.ID,
			Platform:       string(run.Platform),
			StartedAt:      run.StartedAt,
			FinishedAt:     run.FinishedAt,
			Status:         string(run.Status),
			OrdersUpserted: run.OrdersUpserted,
			PayoutsSynced:  run.PayoutsSynced,
			FeeLinesSynced: run.FeeLinesSynced,
			ErrorSummary:   run.ErrorSummary,
		})
	}
	writeJSON(w, http.StatusOK, runsJSON)
}

type syncStatusJSONResponse struct {
	Running       bool       `json:"running"`
	LastSuccessAt *time.Time `json:"last_success_at"`
}

func (h *handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := syncStatusJSONResponse{Running: h.deps.Scheduler.Running()}

	last, err := h.deps.Store.SyncRunLastSuccess(r.Context(), model.PlatformShopify)
	switch {
	case err == nil:
		status.LastSuccessAt = last.FinishedAt
	case errors.Is(err, store.ErrNoRows):
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type profitJSONResponse struct {
	Start   string                `json:"start"`
	End     string                `json:"end"`
	Summary profit.Summary        `json:"summary"`
	Fees    []profit.FeeBreakdown `json:"fees"`
}

// GetProfit: start и end в формате YYYY-MM-DD, end включительно
func (h *handler) GetProfit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	today := h.now().UTC().Truncate(24 * time.Hour)
	end := today
	if v := query.Get("end"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			http.Error(w, "invalid end date", http.StatusBadRequest)
			return
		}
		end = t
	}
	start := end.Add(-defaultPeriod)
	if v := query.Get("start"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			http.Error(w, "invalid start date", http.StatusBadRequest)
			return
		}
		start = t
	}
	excludeTaxes := false
	if v := query.Get("exclude_taxes"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid exclude_taxes", http.StatusBadRequest)
			return
		}
		excludeTaxes = b
	}

	period := model.Period{Start: start, End: end.AddDate(0, 0, 1)}
	summary, err := h.deps.Profit.Summary(r.Context(), period, excludeTaxes)
	if err != nil {
		if errors.Is(err, profit.ErrInvalidPeriod) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fees, err := h.deps.Profit.FeeBreakdown(r.Context(), period)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, profitJSONResponse{
		Start:   start.Format(time.DateOnly),
		End:     end.Format(time.DateOnly),
		Summary: summary,
		Fees:    fees,
	})
}

func (h *handler) GetInstall(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		shop = h.cfg.DefaultShop
	}
	if shop == "" {
		http.Error(w, "Missing shop parameter", http.StatusBadRequest)
		return
	}
	if !shopifyclient.ValidShop(shop) {
		http.Error(w, "Invalid shop domain", http.StatusBadRequest)
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieOAuthState,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.deps.Shop.AuthCodeURL(shop, state), http.StatusFound)
}

func (h *handler) GetCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code, shop, state := query.Get("code"), query.Get("shop"), query.Get("state")
	if code == "" || shop == "" || state == "" {
		http.Error(w, "Missing OAuth parameters", http.StatusBadRequest)
		return
	}

	stored, err := r.Cookie(cookieOAuthState)
	if err != nil || stored.Value != state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		return
	}
	if !h.deps.Shop.VerifyCallbackQuery(query) {
		http.Error(w, "HMAC verification failed", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieOAuthState,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	accessToken, err := h.deps.Shop.ExchangeToken(r.Context(), shop, code)
	if err != nil {
		h.zaplog.Warn("token exchange failed", zap.String("shop", shop), zap.Error(err))
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	err = h.deps.Store.ConnectionUpsert(r.Context(), model.ShopConnection{Shop: shop, AccessToken: accessToken})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.zaplog.Info("shop connected", zap.String("shop", shop))
	http.Redirect(w, r, "/?connected=1", http.StatusFound)
}

// PostWebhook проверяет подпись; сами данные подтянет следующая синхронизация
func (h *handler) PostWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.deps.Shop.VerifyWebhook(body, r.Header.Get("X-Shopify-Hmac-Sha256")) {
		h.zaplog.Warn("webhook signature mismatch",
			zap.String("topic", r.Header.Get("X-Shopify-Topic")),
			zap.String("shop", r.Header.Get("X-Shopify-Shop-Domain")),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.zaplog.Info("webhook received",
		zap.String("topic", r.Header.Get("X-Shopify-Topic")),
		zap.String("shop", r.Header.Get("X-Shopify-Shop-Domain")),
	)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}
