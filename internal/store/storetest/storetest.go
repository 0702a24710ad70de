// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/store"
)

// Store mirrors the SQL store's semantics: natural-key upserts, the
// RUNNING -> terminal sync-run transition and foreign keys on fee lines.
type Store struct {
	mu         sync.Mutex
	connection *model.ShopConnection
	orders     map[model.OrderKey]model.Order
	refunds    map[string][]model.Refund
	payouts    map[model.PayoutKey]model.Payout
	feeLines   map[string]model.FeeLine
	runs       []model.SyncRun

	// Err, if set, is returned by the named method instead of doing work.
	Err map[string]error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:   make(map[model.OrderKey]model.Order),
		refunds:  make(map[string][]model.Refund),
		payouts:  make(map[model.PayoutKey]model.Payout),
		feeLines: make(map[string]model.FeeLine),
		Err:      make(map[string]error),
	}
}

func (s *Store) fail(method string) error {
	return s.Err[method]
}

func (s *Store) ConnectionGet(ctx context.Context) (model.ShopConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ConnectionGet"); err != nil {
		return model.ShopConnection{}, err
	}
	if s.connection == nil {
		return model.ShopConnection{}, store.ErrNoRows
	}
	return *s.connection, nil
}

func (s *Store) ConnectionUpsert(ctx context.Context, conn model.ShopConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ConnectionUpsert"); err != nil {
		return err
	}
	s.connection = &conn
	return nil
}

func (s *Store) OrderUpsert(ctx context.Context, order model.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("OrderUpsert"); err != nil {
		return "", err
	}
	existing, ok := s.orders[order.Key]
	if ok {
		order.ID = existing.ID
		order.Data.ShippingCostCents = existing.Data.ShippingCostCents
	} else {
		order.ID = uuid.NewString()
		order.Data.ShippingCostCents = nil
	}
	s.orders[order.Key] = order
	return order.ID, nil
}

func (s *Store) OrderGetByPlatformID(ctx context.Context, key model.OrderKey) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("OrderGetByPlatformID"); err != nil {
		return model.Order{}, err
	}
	order, ok := s.orders[key]
	if !ok {
		return model.Order{}, store.ErrNoRows
	}
	return order, nil
}

func (s *Store) OrderListMissingShippingCost(ctx context.Context, platform model.Platform, limit int) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("OrderListMissingShippingCost"); err != nil {
		return nil, err
	}
	var orders []model.Order
	for _, order := range s.orders {
		if order.Key.Platform == platform && order.Data.ShippingCostCents == nil {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Data.OrderDate.After(orders[j].Data.OrderDate)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) OrderSetShippingCost(ctx context.Context, orderID string, cents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("OrderSetShippingCost"); err != nil {
		return err
	}
	for key, order := range s.orders {
		if order.ID == orderID {
			order.Data.ShippingCostCents = &cents
			s.orders[key] = order
			return nil
		}
	}
	return store.ErrNoRows
}

func (s *Store) RefundsReplace(ctx context.Context, orderID string, refunds []model.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RefundsReplace"); err != nil {
		return err
	}
	rows := make([]model.Refund, 0, len(refunds))
	for _, r := range refunds {
		r.ID = uuid.NewString()
		r.OrderID = orderID
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		delete(s.refunds, orderID)
		return nil
	}
	s.refunds[orderID] = rows
	return nil
}

func (s *Store) PayoutUpsert(ctx context.Context, payout model.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PayoutUpsert"); err != nil {
		return err
	}
	if existing, ok := s.payouts[payout.Key]; ok {
		payout.ID = existing.ID
	} else {
		payout.ID = uuid.NewString()
	}
	s.payouts[payout.Key] = payout
	return nil
}

func (s *Store) FeeLineUpsert(ctx context.Context, line model.FeeLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FeeLineUpsert"); err != nil {
		return err
	}
	if !s.orderExists(line.OrderID) {
		return store.ErrForeignKey
	}
	s.feeLines[line.ID] = line
	return nil
}

func (s *Store) orderExists(id string) bool {
	for _, order := range s.orders {
		if order.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) SyncRunCreate(ctx context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SyncRunCreate"); err != nil {
		return err
	}
	if run.Status != model.SyncStatusRunning || run.FinishedAt != nil {
		return store.ErrRunNotRunning
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) SyncRunFinish(ctx context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SyncRunFinish"); err != nil {
		return err
	}
	if !run.Finished() || run.FinishedAt == nil {
		return store.ErrRunNotFinished
	}
	for i := range s.runs {
		if s.runs[i].ID != run.ID {
			continue
		}
		if s.runs[i].Status != model.SyncStatusRunning {
			return store.ErrRunNotRunning
		}
		s.runs[i] = run
		return nil
	}
	return store.ErrRunNotRunning
}

func (s *Store) SyncRunLastSuccess(ctx context.Context, platform model.Platform) (model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SyncRunLastSuccess"); err != nil {
		return model.SyncRun{}, err
	}
	var (
		last  model.SyncRun
		found bool
	)
	for _, run := range s.runs {
		if run.Platform != platform || run.Status != model.SyncStatusSuccess {
			continue
		}
		if !found || run.StartedAt.After(last.StartedAt) {
			last, found = run, true
		}
	}
	if !found {
		return model.SyncRun{}, store.ErrNoRows
	}
	return last, nil
}

func (s *Store) SyncRunList(ctx context.Context, limit int) ([]model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SyncRunList"); err != nil {
		return nil, err
	}
	runs := append([]model.SyncRun(nil), s.runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) ProfitTotals(ctx context.Context, period model.Period) (model.ProfitTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ProfitTotals"); err != nil {
		return model.ProfitTotals{}, err
	}
	var totals model.ProfitTotals
	for _, order := range s.orders {
		if !inPeriod(order, period) {
			continue
		}
		totals.OrdersCount++
		totals.GrossRevenueCents += order.Data.GrossRevenueCents
		totals.ShippingChargedCents += order.Data.ShippingChargedCents
		totals.TaxesCents += order.Data.TaxesCents
		if order.Data.ShippingCostCents != nil {
			totals.ShippingCostCents += *order.Data.ShippingCostCents
		} else {
			totals.MissingShippingCost++
		}
		for _, r := range s.refunds[order.ID] {
			totals.RefundsCents += r.AmountCents
		}
		for _, f := range s.feeLines {
			if f.OrderID == order.ID {
				totals.FeesCents += f.AmountCents
			}
		}
	}
	return totals, nil
}

func (s *Store) FeeTotalsByType(ctx context.Context, period model.Period) ([]model.FeeTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FeeTotalsByType"); err != nil {
		return nil, err
	}
	sums := make(map[model.FeeType]int64)
	for _, order := range s.orders {
		if !inPeriod(order, period) {
			continue
		}
		for _, f := range s.feeLines {
			if f.OrderID == order.ID {
				sums[f.Type] += f.AmountCents
			}
		}
	}
	totals := make([]model.FeeTotal, 0, len(sums))
	for t, amount := range sums {
		totals = append(totals, model.FeeTotal{Type: t, AmountCents: amount})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].AmountCents > totals[j].AmountCents })
	return totals, nil
}

func (s *Store) Close() error {
	return nil
}

func inPeriod(order model.Order, period model.Period) bool {
	d := order.Data.OrderDate
	return !d.Before(period.Start) && d.Before(period.End)
}

// Снимки состояния для проверок

func (s *Store) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]model.Order, 0, len(s.orders))
	for _, order := range s.orders {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Key.PlatformOrderID < orders[j].Key.PlatformOrderID })
	return orders
}

func (s *Store) Refunds(orderID string) []model.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Refund(nil), s.refunds[orderID]...)
}

func (s *Store) Payouts() []model.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	payouts := make([]model.Payout, 0, len(s.payouts))
	for _, payout := range s.payouts {
		payouts = append(payouts, payout)
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].Key.PlatformPayoutID < payouts[j].Key.PlatformPayoutID })
	return payouts
}

func (s *Store) FeeLines() []model.FeeLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]model.FeeLine, 0, len(s.feeLines))
	for _, line := range s.feeLines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

func (s *Store) Runs() []model.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SyncRun(nil), s.runs...)
}
