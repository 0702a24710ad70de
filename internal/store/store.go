package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/store/config"
)

type Store interface {
	ConnectionGet(ctx context.Context) (model.ShopConnection, error)
	ConnectionUpsert(ctx context.Context, conn model.ShopConnection) error
	OrderUpsert(ctx context.Context, order model.Order) (string, error)
	OrderGetByPlatformID(ctx context.Context, key model.OrderKey) (model.Order, error)
	OrderListMissingShippingCost(ctx context.Context, platform model.Platform, limit int) ([]model.Order, error)
	OrderSetShippingCost(ctx context.Context, orderID string, cents int64) error
	RefundsReplace(ctx context.Context, orderID string, refunds []model.Refund) error
	PayoutUpsert(ctx context.Context, payout model.Payout) error
	FeeLineUpsert(ctx context.Context, line model.FeeLine) error
	SyncRunCreate(ctx context.Context, run model.SyncRun) error
	SyncRunFinish(ctx context.Context, run model.SyncRun) error
	SyncRunLastSuccess(ctx context.Context, platform model.Platform) (model.SyncRun, error)
	SyncRunList(ctx context.Context, limit int) ([]model.SyncRun, error)
	ProfitTotals(ctx context.Context, period model.Period) (model.ProfitTotals, error)
	FeeTotalsByType(ctx context.Context, period model.Period) ([]model.FeeTotal, error)
	Close() error
}

var (
	ErrNoRows         = errors.New("no rows")
	ErrForeignKey     = errors.New("referenced row does not exist")
	ErrRunNotRunning  = errors.New("sync run is not running")
	ErrRunNotFinished = errors.New("sync run has no terminal status")
)

const pgForeignKeyViolation = "23503"

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	if err = runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *store {
	return &store{database: db}
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) ConnectionGet(ctx context.Context) (model.ShopConnection, error) {
	// Подключение одно: берем последнее обновленное
	row := store.database.QueryRowContext(ctx,
		"SELECT shop, access_token FROM shop_connections"+
			" ORDER BY updated_at DESC"+
			" LIMIT 1")
	var conn model.ShopConnection
	err := row.Scan(&conn.Shop, &conn.AccessToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ShopConnection{}, ErrNoRows
		}
		return model.ShopConnection{}, err
	}
	return conn, nil
}

func (store *store) ConnectionUpsert(ctx context.Context, conn model.ShopConnection) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO shop_connections (shop, access_token, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $3)"+
			" ON CONFLICT (shop) DO UPDATE"+
			" SET access_token = EXCLUDED.access_token,"+
			"     updated_at = EXCLUDED.updated_at",
		conn.Shop,
		conn.AccessToken,
		time.Now().UTC())
	return err
}

// OrderUpsert создает заказ или перезаписывает его финансовые поля.
// Стоимость доставки не трогается: ее заполняет отдельный проход.
func (store *store) OrderUpsert(ctx context.Context, order model.Order) (string, error) {
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO orders (id, platform, platform_order_id, order_number, order_date,"+
			" gross_revenue_cents, shipping_charged_cents, taxes_cents, currency, status,"+
			" customer_name, customer_email, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)"+
			" ON CONFLICT (platform, platform_order_id) DO UPDATE"+
			" SET order_number = EXCLUDED.order_number,"+
			"     order_date = EXCLUDED.order_date,"+
			"     gross_revenue_cents = EXCLUDED.gross_revenue_cents,"+
			"     shipping_charged_cents = EXCLUDED.shipping_charged_cents,"+
			"     taxes_cents = EXCLUDED.taxes_cents,"+
			"     currency = EXCLUDED.currency,"+
			"     status = EXCLUDED.status,"+
			"     customer_name = EXCLUDED.customer_name,"+
			"     customer_email = EXCLUDED.customer_email,"+
			"     updated_at = EXCLUDED.updated_at"+
			" RETURNING id",
		uuid.NewString(),
		order.Key.Platform,
		order.Key.PlatformOrderID,
		nullString(order.Data.OrderNumber),
		order.Data.OrderDate.UTC(),
		order.Data.GrossRevenueCents,
		order.Data.ShippingChargedCents,
		order.Data.TaxesCents,
		order.Data.Currency,
		order.Data.Status,
		nullString(order.Data.CustomerName),
		nullString(order.Data.CustomerEmail),
		time.Now().UTC())

	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (store *store) OrderGetByPlatformID(ctx context.Context, key model.OrderKey) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE platform = $1"+
			"   AND platform_order_id = $2",
		key.Platform,
		key.PlatformOrderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) OrderListMissingShippingCost(ctx context.Context, platform model.Platform, limit int) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE platform = $1"+
			"   AND shipping_cost_cents IS NULL"+
			" ORDER BY order_date DESC"+
			" LIMIT $2",
		platform,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (store *store) OrderSetShippingCost(ctx context.Context, orderID string, cents int64) error {
	res, err := store.database.ExecContext(ctx,
		"UPDATE orders"+
			" SET shipping_cost_cents = $1"+
			" WHERE id = $2",
		cents,
		orderID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRows
	}
	return nil
}

// RefundsReplace удаляет все возвраты заказа и записывает переданные.
// Пустой список оставляет заказ без возвратов.
func (store *store) RefundsReplace(ctx context.Context, orderID string, refunds []model.Refund) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM refunds WHERE order_id = $1",
		orderID)
	if err != nil {
		return err
	}

	for _, refund := range refunds {
		id := refund.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO refunds (id, order_id, amount_cents, refund_date)"+
				" VALUES ($1, $2, $3, $4)",
			id,
			orderID,
			refund.AmountCents,
			refund.Date.UTC())
		if err != nil {
			return mapForeignKey(err)
		}
	}

	return tx.Commit()
}

// PayoutUpsert перезаписывает все три компонента комиссии разом.
func (store *store) PayoutUpsert(ctx context.Context, payout model.Payout) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO payouts (id, platform, platform_payout_id, total_cents,"+
			" charges_fee_cents, adjustments_fee_cents, refunds_fee_cents,"+
			" payout_date, status, currency)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"+
			" ON CONFLICT (platform, platform_payout_id) DO UPDATE"+
			" SET total_cents = EXCLUDED.total_cents,"+
			"     charges_fee_cents = EXCLUDED.charges_fee_cents,"+
			"     adjustments_fee_cents = EXCLUDED.adjustments_fee_cents,"+
			"     refunds_fee_cents = EXCLUDED.refunds_fee_cents,"+
			"     payout_date = EXCLUDED.payout_date,"+
			"     status = EXCLUDED.status,"+
			"     currency = EXCLUDED.currency",
		uuid.NewString(),
		payout.Key.Platform,
		payout.Key.PlatformPayoutID,
		payout.Data.TotalCents,
		payout.Data.ChargesFeeCents,
		payout.Data.AdjustmentsFeeCents,
		payout.Data.RefundsFeeCents,
		payout.Data.Date.UTC(),
		payout.Data.Status,
		payout.Data.Currency)
	return err
}

func (store *store) FeeLineUpsert(ctx context.Context, line model.FeeLine) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO fee_lines (id, order_id, type, amount_cents)"+
			" VALUES ($1, $2, $3, $4)"+
			" ON CONFLICT (id) DO UPDATE"+
			" SET order_id = EXCLUDED.order_id,"+
			"     type = EXCLUDED.type,"+
			"     amount_cents = EXCLUDED.amount_cents",
		line.ID,
		line.OrderID,
		line.Type,
		line.AmountCents)
	return mapForeignKey(err)
}

func (store *store) SyncRunCreate(ctx context.Context, run model.SyncRun) error {
	if run.Status != model.SyncStatusRunning || run.FinishedAt != nil {
		return ErrRunNotRunning
	}
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO sync_runs (id, platform, started_at, status)"+
			" VALUES ($1, $2, $3, $4)",
		run.ID,
		run.Platform,
		run.StartedAt.UTC(),
		run.Status)
	return err
}

// SyncRunFinish переводит запуск из RUNNING в конечный статус.
// Завершенный запуск повторно не меняется.
func (store *store) SyncRunFinish(ctx context.Context, run model.SyncRun) error {
	if !run.Finished() || run.FinishedAt == nil {
		return ErrRunNotFinished
	}
	res, err := store.database.ExecContext(ctx,
		"UPDATE sync_runs"+
			" SET finished_at = $1,"+
			"     status = $2,"+
			"     orders_upserted = $3,"+
			"     payouts_synced = $4,"+
			"     fee_lines_synced = $5,"+
			"     error_summary = $6"+
			" WHERE id = $7"+
			"   AND status = $8",
		run.FinishedAt.UTC(),
		run.Status,
		run.OrdersUpserted,
		run.PayoutsSynced,
		run.FeeLinesSynced,
		nullString(run.ErrorSummary),
		run.ID,
		model.SyncStatusRunning)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func (store *store) SyncRunLastSuccess(ctx context.Context, platform model.Platform) (model.SyncRun, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+syncRunColumns+
			" FROM sync_runs"+
			" WHERE platform = $1"+
			"   AND status = $2"+
			" ORDER BY started_at DESC"+
			" LIMIT 1",
		platform,
		model.SyncStatusSuccess)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SyncRun{}, ErrNoRows
		}
		return model.SyncRun{}, err
	}
	return run, nil
}

func (store *store) SyncRunList(ctx context.Context, limit int) ([]model.SyncRun, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+syncRunColumns+
			" FROM sync_runs"+
			" ORDER BY started_at DESC"+
			" LIMIT $1",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ProfitTotals суммирует заказы периода и связанные с ними возвраты и комиссии.
func (store *store) ProfitTotals(ctx context.Context, period model.Period) (model.ProfitTotals, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT COUNT(*),"+
			" COALESCE(SUM(o.gross_revenue_cents), 0),"+
			" COALESCE(SUM(o.shipping_charged_cents), 0),"+
			" COALESCE(SUM(o.shipping_cost_cents), 0),"+
			" COALESCE(SUM(o.taxes_cents), 0),"+
			" COUNT(*) FILTER (WHERE o.shipping_cost_cents IS NULL),"+
			" (SELECT COALESCE(SUM(r.amount_cents), 0)"+
			"    FROM refunds r JOIN orders ro ON ro.id = r.order_id"+
			"   WHERE ro.order_date >= $1 AND ro.order_date < $2),"+
			" (SELECT COALESCE(SUM(f.amount_cents), 0)"+
			"    FROM fee_lines f JOIN orders fo ON fo.id = f.order_id"+
			"   WHERE fo.order_date >= $1 AND fo.order_date < $2)"+
			" FROM orders o"+
			" WHERE o.order_date >= $1"+
			"   AND o.order_date < $2",
		period.Start.UTC(),
		period.End.UTC())

	var totals model.ProfitTotals
	err := row.Scan(&totals.OrdersCount,
		&totals.GrossRevenueCents,
		&totals.ShippingChargedCents,
		&totals.ShippingCostCents,
		&totals.TaxesCents,
		&totals.MissingShippingCost,
		&totals.RefundsCents,
		&totals.FeesCents)
	if err != nil {
		return model.ProfitTotals{}, err
	}
	return totals, nil
}

func (store *store) FeeTotalsByType(ctx context.Context, period model.Period) ([]model.FeeTotal, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT f.type, SUM(f.amount_cents) AS total"+
			" FROM fee_lines f"+
			" JOIN orders o ON o.id = f.order_id"+
			" WHERE o.order_date >= $1"+
			"   AND o.order_date < $2"+
			" GROUP BY f.type"+
			" ORDER BY total DESC",
		period.Start.UTC(),
		period.End.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []model.FeeTotal
	for rows.Next() {
		var total model.FeeTotal
		if err := rows.Scan(&total.Type, &total.AmountCents); err != nil {
			return nil, err
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

const orderColumns = "id, platform, platform_order_id, order_number, order_date," +
	" gross_revenue_cents, shipping_charged_cents, taxes_cents, shipping_cost_cents," +
	" currency, status, customer_name, customer_email"

const syncRunColumns = "id, platform, started_at, finished_at, status," +
	" orders_upserted, payouts_synced, fee_lines_synced, error_summary"

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (model.Order, error) {
	var (
		order                              model.Order
		number, customerName, customerMail sql.NullString
		shippingCost                       sql.NullInt64
	)
	err := row.Scan(&order.ID,
		&order.Key.Platform,
		&order.Key.PlatformOrderID,
		&number,
		&order.Data.OrderDate,
		&order.Data.GrossRevenueCents,
		&order.Data.ShippingChargedCents,
		&order.Data.TaxesCents,
		&shippingCost,
		&order.Data.Currency,
		&order.Data.Status,
		&customerName,
		&customerMail)
	if err != nil {
		return model.Order{}, err
	}
	order.Data.OrderNumber = number.String
	order.Data.CustomerName = customerName.String
	order.Data.CustomerEmail = customerMail.String
	if shippingCost.Valid {
		cost := shippingCost.Int64
		order.Data.ShippingCostCents = &cost
	}
	return order, nil
}

func scanSyncRun(row scanner) (model.SyncRun, error) {
	var (
		run          model.SyncRun
		finishedAt   sql.NullTime
		errorSummary sql.NullString
	)
	err := row.Scan(&run.ID,
		&run.Platform,
		&run.StartedAt,
		&finishedAt,
		&run.Status,
		&run.OrdersUpserted,
		&run.PayoutsSynced,
		&run.FeeLinesSynced,
		&errorSummary)
	if err != nil {
		return model.SyncRun{}, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.ErrorSummary = errorSummary.String
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapForeignKey(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrForeignKey
	}
	return err
}
