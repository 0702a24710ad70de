package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iurnickita/profitsync/internal/auth"
	"github.com/iurnickita/profitsync/internal/config"
	"github.com/iurnickita/profitsync/internal/handler"
	"github.com/iurnickita/profitsync/internal/logger"
	"github.com/iurnickita/profitsync/internal/metrics"
	"github.com/iurnickita/profitsync/internal/profit"
	"github.com/iurnickita/profitsync/internal/scheduler"
	"github.com/iurnickita/profitsync/internal/service"
	"github.com/iurnickita/profitsync/internal/service/pager"
	"github.com/iurnickita/profitsync/internal/service/shippingclient"
	"github.com/iurnickita/profitsync/internal/service/shopifyclient"
	"github.com/iurnickita/profitsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	syncMetrics := metrics.NewSync(nil)

	fetcher := pager.New(pager.Config{
		PageDelay:         cfg.Service.PageDelay,
		DefaultRetryAfter: cfg.Service.RateLimitDefaultWait,
		Timeout:           cfg.Service.RequestTimeout,
	}, zaplog, pager.WithObserver(syncMetrics))

	client := shopifyclient.NewClient(shopifyclient.Config{
		APIVersion:   cfg.Service.APIVersion,
		PageSize:     cfg.Service.PageSize,
		ClientID:     cfg.Service.ClientID,
		ClientSecret: cfg.Service.ClientSecret,
		Scopes:       strings.Split(cfg.Service.Scopes, ","),
		RedirectURL:  strings.TrimRight(cfg.Service.AppURL, "/") + "/api/shopify/callback",
	}, fetcher)

	opts := []service.Option{service.WithMetrics(syncMetrics)}
	if cfg.Service.ShippingCostURL != "" {
		opts = append(opts, service.WithShippingCosts(shippingclient.NewShippingClient(cfg.Service.ShippingCostURL)))
	}
	svc := service.NewService(cfg.Service, store, client, zaplog, opts...)

	sched := scheduler.New(cfg.Scheduler, svc, zaplog)
	sched.Start(ctx)

	auth, err := auth.NewAuth(cfg.Auth, cfg.Handler.SecureCookies, zaplog)
	if err != nil {
		return err
	}

	zaplog.Info("starting server", zap.String("addr", cfg.Handler.ServerAddr))
	err = handler.Serve(ctx, cfg.Handler, handler.Deps{
		Auth:      auth,
		Scheduler: sched,
		Store:     store,
		Profit:    profit.NewProfit(store),
		Shop:      client,
		Metrics:   promhttp.Handler(),
	}, zaplog)

	// ждем незавершенный запуск, чтобы он успел записать итог
	sched.Wait()
	return err
}
