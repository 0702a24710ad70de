package store

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/store/config"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newStore(db), mock
}

func TestStoreConnectionGetEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT shop, access_token FROM shop_connections")).
		WillReturnRows(sqlmock.NewRows([]string{"shop", "access_token"}))

	_, err := store.ConnectionGet(context.Background())
	require.ErrorIs(t, err, ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreOrderUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(sqlmock.AnyArg(), "SHOPIFY", "1001", "#1001", date,
			1999, 500, 100, "USD", "CLOSED", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o-1"))

	id, err := store.OrderUpsert(context.Background(), model.Order{
		Key: model.OrderKey{Platform: model.PlatformShopify, PlatformOrderID: "1001"},
		Data: model.OrderData{
			OrderNumber:          "#1001",
			OrderDate:            date,
			GrossRevenueCents:    1999,
			ShippingChargedCents: 500,
			TaxesCents:           100,
			Currency:             "USD",
			Status:               model.OrderStatusClosed,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "o-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreOrderGetByPlatformID(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	columns := []string{"id", "platform", "platform_order_id", "order_number", "order_date",
		"gross_revenue_cents", "shipping_charged_cents", "taxes_cents", "shipping_cost_cents",
		"currency", "status", "customer_name", "customer_email"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders")).
		WithArgs("SHOPIFY", "1001").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("o-1", "SHOPIFY", "1001", "#1001", date, 1999, 500, 100, 750, "USD", "REFUNDED", "Ann Lee", nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders")).
		WithArgs("SHOPIFY", "404").
		WillReturnRows(sqlmock.NewRows(columns))

	ctx := context.Background()
	order, err := store.OrderGetByPlatformID(ctx, model.OrderKey{Platform: model.PlatformShopify, PlatformOrderID: "1001"})
	require.NoError(t, err)
	require.Equal(t, "o-1", order.ID)
	require.Equal(t, model.OrderStatusRefunded, order.Data.Status)
	require.NotNil(t, order.Data.ShippingCostCents)
	require.EqualValues(t, 750, *order.Data.ShippingCostCents)
	require.Equal(t, "Ann Lee", order.Data.CustomerName)
	require.Empty(t, order.Data.CustomerEmail)

	_, err = store.OrderGetByPlatformID(ctx, model.OrderKey{Platform: model.PlatformShopify, PlatformOrderID: "404"})
	require.ErrorIs(t, err, ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreOrderSetShippingCostMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).
		WithArgs(750, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.OrderSetShippingCost(context.Background(), "gone", 750)
	require.ErrorIs(t, err, ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRefundsReplace(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refunds")).
		WithArgs("o-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refunds")).
		WithArgs(sqlmock.AnyArg(), "o-1", 450, date).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RefundsReplace(context.Background(), "o-1", []model.Refund{{AmountCents: 450, Date: date}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRefundsReplaceEmptyClearsRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refunds")).
		WithArgs("o-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, store.RefundsReplace(context.Background(), "o-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePayoutUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).
		WithArgs(sqlmock.AnyArg(), "SHOPIFY", "77", 10000, 290, 10, 0, date, "paid", "USD").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PayoutUpsert(context.Background(), model.Payout{
		Key: model.PayoutKey{Platform: model.PlatformShopify, PlatformPayoutID: "77"},
		Data: model.PayoutData{
			TotalCents:          10000,
			ChargesFeeCents:     290,
			AdjustmentsFeeCents: 10,
			Date:                date,
			Status:              "paid",
			Currency:            "USD",
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFeeLineUpsertForeignKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_lines")).
		WithArgs("shopify_txn_5", "o-1", "PAYMENT_PROCESSING", 88).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_lines")).
		WithArgs("shopify_txn_6", "gone", "PAYMENT_PROCESSING", 12).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	ctx := context.Background()
	require.NoError(t, store.FeeLineUpsert(ctx, model.FeeLine{
		ID: "shopify_txn_5", OrderID: "o-1", Type: model.FeeTypePaymentProcessing, AmountCents: 88,
	}))
	err := store.FeeLineUpsert(ctx, model.FeeLine{
		ID: "shopify_txn_6", OrderID: "gone", Type: model.FeeTypePaymentProcessing, AmountCents: 12,
	})
	require.ErrorIs(t, err, ErrForeignKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSyncRunTransitions(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	// конечный статус при создании запрещен
	err := store.SyncRunCreate(ctx, model.SyncRun{ID: "r-1", Status: model.SyncStatusSuccess, StartedAt: started})
	require.ErrorIs(t, err, ErrRunNotRunning)

	// без конечного статуса завершить нельзя
	err = store.SyncRunFinish(ctx, model.SyncRun{ID: "r-1", Status: model.SyncStatusRunning, FinishedAt: &finished})
	require.ErrorIs(t, err, ErrRunNotFinished)
	err = store.SyncRunFinish(ctx, model.SyncRun{ID: "r-1", Status: model.SyncStatusSuccess})
	require.ErrorIs(t, err, ErrRunNotFinished)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_runs")).
		WithArgs("r-1", "SHOPIFY", started, "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_runs")).
		WithArgs(finished, "FAILED", 3, 0, 0, "boom", "r-1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_runs")).
		WithArgs(finished, "SUCCESS", 3, 0, 0, nil, "r-1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	run := model.SyncRun{ID: "r-1", Platform: model.PlatformShopify, StartedAt: started, Status: model.SyncStatusRunning}
	require.NoError(t, store.SyncRunCreate(ctx, run))

	run.Status = model.SyncStatusFailed
	run.FinishedAt = &finished
	run.OrdersUpserted = 3
	run.ErrorSummary = "boom"
	require.NoError(t, store.SyncRunFinish(ctx, run))

	// повторное завершение не меняет запись
	run.Status = model.SyncStatusSuccess
	run.ErrorSummary = ""
	require.ErrorIs(t, store.SyncRunFinish(ctx, run), ErrRunNotRunning)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSyncRunLastSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	columns := []string{"id", "platform", "started_at", "finished_at", "status",
		"orders_upserted", "payouts_synced", "fee_lines_synced", "error_summary"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_runs")).
		WithArgs("SHOPIFY", "SUCCESS").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r-1", "SHOPIFY", started, finished, "SUCCESS", 5, 1, 2, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_runs")).
		WithArgs("SHOPIFY", "SUCCESS").
		WillReturnRows(sqlmock.NewRows(columns))

	ctx := context.Background()
	run, err := store.SyncRunLastSuccess(ctx, model.PlatformShopify)
	require.NoError(t, err)
	require.Equal(t, started, run.StartedAt)
	require.Equal(t, finished, *run.FinishedAt)
	require.Equal(t, 5, run.OrdersUpserted)
	require.Empty(t, run.ErrorSummary)

	_, err = store.SyncRunLastSuccess(ctx, model.PlatformShopify)
	require.ErrorIs(t, err, ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreProfitTotals(t *testing.T) {
	store, mock := newMockStore(t)
	period := model.Period{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders o")).
		WithArgs(period.Start, period.End).
		WillReturnRows(sqlmock.NewRows([]string{"count", "gross", "shipping_charged", "shipping_cost",
			"taxes", "missing", "refunds", "fees"}).
			AddRow(2, 2999, 500, 750, 100, 1, 450, 88))
	mock.ExpectQuery(regexp.QuoteMeta("FROM fee_lines f")).
		WithArgs(period.Start, period.End).
		WillReturnRows(sqlmock.NewRows([]string{"type", "total"}).
			AddRow("PAYMENT_PROCESSING", 88))

	ctx := context.Background()
	totals, err := store.ProfitTotals(ctx, period)
	require.NoError(t, err)
	require.Equal(t, model.ProfitTotals{
		OrdersCount:          2,
		GrossRevenueCents:    2999,
		ShippingChargedCents: 500,
		ShippingCostCents:    750,
		TaxesCents:           100,
		RefundsCents:         450,
		FeesCents:            88,
		MissingShippingCost:  1,
	}, totals)

	fees, err := store.FeeTotalsByType(ctx, period)
	require.NoError(t, err)
	require.Equal(t, []model.FeeTotal{{Type: model.FeeTypePaymentProcessing, AmountCents: 88}}, fees)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Проверка на живой базе: DATABASE_URI должен указывать на пустую БД
func TestStoreOrderUpsertIdempotent(t *testing.T) {
	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI not set")
	}

	ctx := context.Background()
	store, err := NewStore(config.Config{DBDsn: dsn})
	require.NoError(t, err)
	defer store.Close()

	order := model.Order{
		Key: model.OrderKey{Platform: model.PlatformShopify, PlatformOrderID: uuid.NewString()},
		Data: model.OrderData{
			OrderDate:         time.Now().UTC().Truncate(time.Second),
			GrossRevenueCents: 1999,
			Currency:          "USD",
			Status:            model.OrderStatusClosed,
		},
	}

	id1, err := store.OrderUpsert(ctx, order)
	require.NoError(t, err)
	require.NoError(t, store.OrderSetShippingCost(ctx, id1, 750))

	// повторный upsert сохраняет id и стоимость доставки
	order.Data.GrossRevenueCents = 2999
	id2, err := store.OrderUpsert(ctx, order)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	got, err := store.OrderGetByPlatformID(ctx, order.Key)
	require.NoError(t, err)
	require.EqualValues(t, 2999, got.Data.GrossRevenueCents)
	require.NotNil(t, got.Data.ShippingCostCents)
	require.EqualValues(t, 750, *got.Data.ShippingCostCents)

	require.NoError(t, store.RefundsReplace(ctx, id1, []model.Refund{{AmountCents: 100, Date: time.Now()}}))
	require.NoError(t, store.RefundsReplace(ctx, id1, nil))
}
