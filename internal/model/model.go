package model

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformShopify Platform = "SHOPIFY"
)

// Заказы

type Order struct {
	ID   string
	Key  OrderKey
	Data OrderData
}
type OrderKey struct {
	Platform        Platform
	PlatformOrderID string
}
type OrderData struct {
	OrderNumber          string
	OrderDate            time.Time
	GrossRevenueCents    int64
	ShippingChargedCents int64
	TaxesCents           int64
	ShippingCostCents    *int64 // заполняется отдельным проходом
	Currency             string
	Status               OrderStatus
	CustomerName         string
	CustomerEmail        string
}

type OrderStatus string

const (
	OrderStatusClosed    OrderStatus = "CLOSED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Возвраты. Пересоздаются целиком для заказа при каждой синхронизации

type Refund struct {
	ID          string
	OrderID     string
	AmountCents int64
	Date        time.Time
}

// Выплаты

type Payout struct {
	ID   string
	Key  PayoutKey
	Data PayoutData
}
type PayoutKey struct {
	Platform         Platform
	PlatformPayoutID string
}
type PayoutData struct {
	TotalCents          int64
	ChargesFeeCents     int64
	AdjustmentsFeeCents int64
	RefundsFeeCents     int64
	Date                time.Time
	Status              string
	Currency            string
}

// FeeCents returns the sum of the three itemized fee components.
func (d PayoutData) FeeCents() int64 {
	return d.ChargesFeeCents + d.AdjustmentsFeeCents + d.RefundsFeeCents
}

// Комиссии по заказам

type FeeLine struct {
	ID          string
	OrderID     string
	Type        FeeType
	AmountCents int64
}

type FeeType string

const (
	FeeTypePaymentProcessing FeeType = "PAYMENT_PROCESSING"
)

// FeeLineID derives the stable fee-line key from a balance transaction id,
// e.g. "shopify_txn_123".
func FeeLineID(platform Platform, transactionID string) string {
	return strings.ToLower(string(platform)) + "_txn_" + transactionID
}

// Журнал запусков синхронизации

type SyncRun struct {
	ID             string
	Platform       Platform
	StartedAt      time.Time
	FinishedAt     *time.Time
	Status         SyncStatus
	OrdersUpserted int
	PayoutsSynced  int
	FeeLinesSynced int
	ErrorSummary   string
}

type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "RUNNING"
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// Finished reports whether the run reached a terminal status.
func (r SyncRun) Finished() bool {
	return r.Status == SyncStatusSuccess || r.Status == SyncStatusFailed
}

// Подключение магазина (создается OAuth callback)

type ShopConnection struct {
	Shop        string
	AccessToken string
}

// Прибыль

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

type ProfitTotals struct {
	OrdersCount          int
	GrossRevenueCents    int64
	ShippingChargedCents int64
	ShippingCostCents    int64
	TaxesCents           int64
	RefundsCents         int64
	FeesCents            int64
	MissingShippingCost  int
}

type FeeTotal struct {
	Type        FeeType
	AmountCents int64
}
