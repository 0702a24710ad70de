package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/iurnickita/profitsync/internal/metrics"
	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/service/config"
	"github.com/iurnickita/profitsync/internal/service/pager"
	"github.com/iurnickita/profitsync/internal/service/shippingclient"
	"github.com/iurnickita/profitsync/internal/service/shopifyclient"
	"github.com/iurnickita/profitsync/internal/store"
)

type Service interface {
	// Sync runs one full synchronization. A manual run ignores the watermark
	// and re-reads every order.
	Sync(ctx context.Context, manual bool) (model.SyncRun, error)
}

var ErrNoConnection = errors.New("no shop connection")

const maxErrorSummary = 500

type Option func(*service)

// WithShippingCosts enables the shipping-cost backfill after each run.
func WithShippingCosts(client shippingclient.ShippingClient) Option {
	return func(s *service) {
		s.shipping = client
	}
}

func WithMetrics(m *metrics.Sync) Option {
	return func(s *service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	cfg      config.Config
	store    store.Store
	client   *shopifyclient.Client
	shipping shippingclient.ShippingClient
	metrics  *metrics.Sync
	zaplog   *zap.Logger
	now      func() time.Time
}

func NewService(cfg config.Config, store store.Store, client *shopifyclient.Client, zaplog *zap.Logger, opts ...Option) Service {
	service := &service{
		cfg:    cfg,
		store:  store,
		client: client,
		zaplog: zaplog.Named("sync"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type syncCounts struct {
	orders   int
	payouts  int
	feeLines int
}

func (service *service) Sync(ctx context.Context, manual bool) (model.SyncRun, error) {
	conn, err := service.store.ConnectionGet(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			service.zaplog.Warn("no shop connection, skipping sync")
			return model.SyncRun{}, ErrNoConnection
		}
		return model.SyncRun{}, err
	}

	run := model.SyncRun{
		ID:        uuid.NewString(),
		Platform:  model.PlatformShopify,
		StartedAt: service.now(),
		Status:    model.SyncStatusRunning,
	}
	if err := service.store.SyncRunCreate(ctx, run); err != nil {
		return model.SyncRun{}, fmt.Errorf("create sync run: %w", err)
	}
	service.metrics.RunStarted()

	zaplog := service.zaplog.With(zap.String("run_id", run.ID), zap.Bool("manual", manual))
	zaplog.Info("sync started", zap.String("shop", conn.Shop))

	counts, runErr := service.run(ctx, conn, manual, zaplog)

	finishedAt := service.now()
	run.FinishedAt = &finishedAt
	run.OrdersUpserted = counts.orders
	run.PayoutsSynced = counts.payouts
	run.FeeLinesSynced = counts.feeLines
	if runErr != nil {
		run.Status = model.SyncStatusFailed
		run.ErrorSummary = truncate(runErr.Error(), maxErrorSummary)
	} else {
		run.Status = model.SyncStatusSuccess
	}

	// запись о завершении сохраняется и при отмене контекста
	if err := service.store.SyncRunFinish(context.WithoutCancel(ctx), run); err != nil {
		zaplog.Error("failed to finish sync run", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finish sync run: %w", err)
		}
	}
	service.metrics.RunFinished(run)

	if run.Status == model.SyncStatusFailed {
		zaplog.Error("sync failed", zap.Error(runErr))
	} else {
		zaplog.Info("sync finished",
			zap.Int("orders", run.OrdersUpserted),
			zap.Int("payouts", run.PayoutsSynced),
			zap.Int("fee_lines", run.FeeLinesSynced),
			zap.Duration("duration", finishedAt.Sub(run.StartedAt)),
		)
	}
	return run, runErr
}

func (service *service) run(ctx context.Context, conn model.ShopConnection, manual bool, zaplog *zap.Logger) (syncCounts, error) {
	var counts syncCounts

	since, err := service.watermark(ctx, manual)
	if err != nil {
		return counts, err
	}

	session := service.client.Connect(conn)

	// заказы и выплаты независимы
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts.orders, err = service.syncOrders(gctx, session, since)
		return err
	})
	g.Go(func() error {
		var err error
		counts.payouts, err = service.syncPayouts(gctx, session, zaplog)
		return err
	})
	if err := g.Wait(); err != nil {
		return counts, err
	}

	counts.feeLines, err = service.syncFeeLines(ctx, session, zaplog)
	if err != nil {
		return counts, err
	}

	service.backfillShipping(ctx, zaplog)
	return counts, nil
}

// watermark is the start of the latest successful run; nil means a full read.
func (service *service) watermark(ctx context.Context, manual bool) (*time.Time, error) {
	if manual {
		return nil, nil
	}
	last, err := service.store.SyncRunLastSuccess(ctx, model.PlatformShopify)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	since := last.StartedAt
	return &since, nil
}

func (service *service) syncOrders(ctx context.Context, session *shopifyclient.Session, since *time.Time) (int, error) {
	var count int
	for batch, err := range session.Orders(ctx, since) {
		if err != nil {
			return count, err
		}
		refundsTotal := 0
		for _, remote := range batch {
			orderID, err := service.store.OrderUpsert(ctx, model.Order{
				Key:  model.OrderKey{Platform: model.PlatformShopify, PlatformOrderID: remote.ID},
				Data: remote.Data,
			})
			if err != nil {
				return count, fmt.Errorf("upsert order %s: %w", remote.ID, err)
			}

			refunds := make([]model.Refund, 0, len(remote.Refunds))
			for _, r := range remote.Refunds {
				refunds = append(refunds, model.Refund{OrderID: orderID, AmountCents: r.AmountCents, Date: r.Date})
			}
			if err := service.store.RefundsReplace(ctx, orderID, refunds); err != nil {
				return count, fmt.Errorf("replace refunds of order %s: %w", remote.ID, err)
			}
			refundsTotal += len(refunds)
			count++
		}
		service.metrics.RecordsSynced(metrics.KindOrder, len(batch))
		service.metrics.RecordsSynced(metrics.KindRefund, refundsTotal)
	}
	return count, nil
}

func (service *service) syncPayouts(ctx context.Context, session *shopifyclient.Session, zaplog *zap.Logger) (int, error) {
	var count int
	for batch, err := range session.Payouts(ctx) {
		if err != nil {
			if errors.Is(err, pager.ErrFeatureUnavailable) {
				zaplog.Warn("payments not available, skipping payouts")
				return count, nil
			}
			return count, err
		}
		for _, remote := range batch {
			err := service.store.PayoutUpsert(ctx, model.Payout{
				Key:  model.PayoutKey{Platform: model.PlatformShopify, PlatformPayoutID: remote.ID},
				Data: remote.Data,
			})
			if err != nil {
				return count, fmt.Errorf("upsert payout %s: %w", remote.ID, err)
			}
			count++
		}
		service.metrics.RecordsSynced(metrics.KindPayout, len(batch))
	}
	return count, nil
}

// syncFeeLines выводит комиссии по заказам из транзакций баланса
func (service *service) syncFeeLines(ctx context.Context, session *shopifyclient.Session, zaplog *zap.Logger) (int, error) {
	var count, skipped int
	for batch, err := range session.BalanceTransactions(ctx) {
		if err != nil {
			if errors.Is(err, pager.ErrFeatureUnavailable) {
				zaplog.Warn("balance transactions not available, skipping fee lines")
				return count, nil
			}
			return count, err
		}
		synced := 0
		for _, txn := range batch {
			if txn.Type != shopifyclient.TransactionTypePayment || txn.SourceOrderID == "" || txn.FeeCents == 0 {
				continue
			}
			order, err := service.store.OrderGetByPlatformID(ctx, model.OrderKey{
				Platform:        model.PlatformShopify,
				PlatformOrderID: txn.SourceOrderID,
			})
			if err != nil {
				if errors.Is(err, store.ErrNoRows) {
					skipped++
					continue
				}
				return count, fmt.Errorf("resolve order %s: %w", txn.SourceOrderID, err)
			}
			err = service.store.FeeLineUpsert(ctx, model.FeeLine{
				ID:          model.FeeLineID(model.PlatformShopify, txn.ID),
				OrderID:     order.ID,
				Type:        model.FeeTypePaymentProcessing,
				AmountCents: txn.FeeCents,
			})
			if err != nil {
				return count, fmt.Errorf("upsert fee line for transaction %s: %w", txn.ID, err)
			}
			synced++
		}
		count += synced
		service.metrics.RecordsSynced(metrics.KindFeeLine, synced)
	}
	if skipped > 0 {
		zaplog.Debug("fee lines skipped for unknown orders", zap.Int("skipped", skipped))
	}
	return count, nil
}

// backfillShipping дозаполняет стоимость доставки. Ошибки не влияют на запуск.
func (service *service) backfillShipping(ctx context.Context, zaplog *zap.Logger) {
	if service.shipping == nil {
		return
	}

	orders, err := service.store.OrderListMissingShippingCost(ctx, model.PlatformShopify, service.cfg.ShippingBackfillLimit)
	if err != nil {
		zaplog.Warn("shipping backfill: list orders", zap.Error(err))
		return
	}

	limit := rate.Inf
	if service.cfg.ShippingLookupsPerSecond > 0 {
		limit = rate.Limit(service.cfg.ShippingLookupsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	filled := 0
	for _, order := range orders {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		answer, err := service.shipping.GetCost(ctx, order.Key.PlatformOrderID)
		if err != nil {
			if errors.Is(err, shippingclient.ErrNotFound) {
				continue
			}
			if errors.Is(err, shippingclient.ErrTooManyRequests) {
				zaplog.Warn("shipping backfill: rate limited, stopping")
				break
			}
			zaplog.Warn("shipping backfill: lookup failed",
				zap.String("order", order.Key.PlatformOrderID), zap.Error(err))
			continue
		}
		cents, err := shopifyclient.ToCents(answer.Cost)
		if err != nil {
			zaplog.Warn("shipping backfill: bad cost",
				zap.String("order", order.Key.PlatformOrderID), zap.Error(err))
			continue
		}
		if err := service.store.OrderSetShippingCost(ctx, order.ID, cents); err != nil {
			zaplog.Warn("shipping backfill: save cost",
				zap.String("order", order.Key.PlatformOrderID), zap.Error(err))
			continue
		}
		filled++
	}
	service.metrics.RecordsSynced(metrics.KindShipping, filled)
	zaplog.Info("shipping backfill finished", zap.Int("candidates", len(orders)), zap.Int("filled", filled))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
