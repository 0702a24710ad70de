package profit

import (
	"context"
	"errors"

	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/store"
)

var ErrInvalidPeriod = errors.New("invalid period")

type Summary struct {
	OrdersCount          int   `json:"orders_count"`
	GrossRevenueCents    int64 `json:"gross_revenue_cents"`
	GrossProfitCents     int64 `json:"gross_profit_cents"`
	NetProfitCents       int64 `json:"net_profit_cents"`
	TotalFeesCents       int64 `json:"total_fees_cents"`
	ShippingChargedCents int64 `json:"shipping_charged_cents"`
	ShippingCostCents    int64 `json:"shipping_cost_cents"`
	TaxesCents           int64 `json:"taxes_cents"`
	TotalRefundsCents    int64 `json:"total_refunds_cents"`
	MissingShippingCost  int   `json:"missing_shipping_cost_count"`
}

type FeeBreakdown struct {
	Type       model.FeeType `json:"type"`
	TotalCents int64         `json:"total_cents"`
}

type Profit interface {
	Summary(ctx context.Context, period model.Period, excludeTaxes bool) (Summary, error)
	FeeBreakdown(ctx context.Context, period model.Period) ([]FeeBreakdown, error)
}

type profit struct {
	store store.Store
}

func NewProfit(store store.Store) Profit {
	profit := profit{store: store}
	return &profit
}

func (profit *profit) Summary(ctx context.Context, period model.Period, excludeTaxes bool) (Summary, error) {
	if !period.End.After(period.Start) {
		return Summary{}, ErrInvalidPeriod
	}

	totals, err := profit.store.ProfitTotals(ctx, period)
	if err != nil {
		return Summary{}, err
	}

	gross := totals.GrossRevenueCents
	if excludeTaxes {
		gross -= totals.TaxesCents
	}

	return Summary{
		OrdersCount:          totals.OrdersCount,
		GrossRevenueCents:    totals.GrossRevenueCents,
		GrossProfitCents:     gross,
		NetProfitCents:       gross - totals.FeesCents - totals.ShippingCostCents - totals.RefundsCents,
		TotalFeesCents:       totals.FeesCents,
		ShippingChargedCents: totals.ShippingChargedCents,
		ShippingCostCents:    totals.ShippingCostCents,
		TaxesCents:           totals.TaxesCents,
		TotalRefundsCents:    totals.RefundsCents,
		MissingShippingCost:  totals.MissingShippingCost,
	}, nil
}

func (profit *profit) FeeBreakdown(ctx context.Context, period model.Period) ([]FeeBreakdown, error) {
	if !period.End.After(period.Start) {
		return nil, ErrInvalidPeriod
	}

	totals, err := profit.store.FeeTotalsByType(ctx, period)
	if err != nil {
		return nil, err
	}

	breakdown := make([]FeeBreakdown, 0, len(totals))
	for _, t := range totals {
		breakdown = append(breakdown, FeeBreakdown{Type: t.Type, TotalCents: t.AmountCents})
	}
	return breakdown, nil
}
