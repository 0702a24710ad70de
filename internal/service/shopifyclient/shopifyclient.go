package shopifyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iurnickita/profitsync/internal/model"
	"github.com/iurnickita/profitsync/internal/service/pager"
)

// Ресурсы (метки для логов и метрик)
const (
	ResourceOrders              = "orders"
	ResourcePayouts             = "payouts"
	ResourceBalanceTransactions = "balance_transactions"
)

const TransactionTypePayment = "payment"

type Config struct {
	APIVersion   string
	PageSize     int
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURL  string
}

// Order is one remote order with its successful refund transactions.
type Order struct {
	ID      string
	Data    model.OrderData
	Refunds []Refund
}

type Refund struct {
	AmountCents int64
	Date        time.Time
}

type Payout struct {
	ID   string
	Data model.PayoutData
}

type BalanceTransaction struct {
	ID            string
	Type          string
	SourceOrderID string // пусто, если транзакция не привязана к заказу
	FeeCents      int64
}

type Option func(*Client)

// WithHTTPClient sets the client used for the OAuth token exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type Client struct {
	cfg        Config
	fetcher    *pager.Fetcher
	httpClient *http.Client
}

func NewClient(cfg Config, fetcher *pager.Fetcher, opts ...Option) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > 250 {
		cfg.PageSize = 250
	}
	c := &Client{cfg: cfg, fetcher: fetcher}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect binds the client to one shop and its access token.
func (c *Client) Connect(conn model.ShopConnection) *Session {
	return &Session{client: c, shop: conn.Shop, token: conn.AccessToken}
}

type Session struct {
	client *Client
	shop   string
	token  string
}

func (s *Session) endpoint(path string, query url.Values) string {
	return fmt.Sprintf("https://%s/admin/api/%s/%s?%s", s.shop, s.client.cfg.APIVersion, path, query.Encode())
}

// Orders streams orders updated since the watermark; nil since means all.
func (s *Session) Orders(ctx context.Context, since *time.Time) iter.Seq2[[]Order, error] {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.client.cfg.PageSize))
	q.Set("status", "any")
	if since != nil {
		q.Set("updated_at_min", since.UTC().Format(time.RFC3339))
	}
	return stream(ctx, s, ResourceOrders, s.endpoint("orders.json", q), convertOrders)
}

func (s *Session) Payouts(ctx context.Context) iter.Seq2[[]Payout, error] {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.client.cfg.PageSize))
	return stream(ctx, s, ResourcePayouts, s.endpoint("shopify_payments/payouts.json", q), convertPayouts)
}

func (s *Session) BalanceTransactions(ctx context.Context) iter.Seq2[[]BalanceTransaction, error] {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.client.cfg.PageSize))
	return stream(ctx, s, ResourceBalanceTransactions, s.endpoint("shopify_payments/balance/transactions.json", q), convertBalanceTransactions)
}

// stream декодирует страницы пейджера; пустые страницы не отдаются
func stream[E any, R any](ctx context.Context, s *Session, resource, url string, convert func(E) ([]R, error)) iter.Seq2[[]R, error] {
	return func(yield func([]R, error) bool) {
		req := pager.Request{Resource: resource, URL: url, Token: s.token}
		for page, err := range s.client.fetcher.Pages(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			var envelope E
			if err := json.Unmarshal(page.Body, &envelope); err != nil {
				yield(nil, fmt.Errorf("%s: decode page: %w", resource, err))
				return
			}
			batch, err := convert(envelope)
			if err != nil {
				yield(nil, fmt.Errorf("%s: %w", resource, err))
				return
			}
			if len(batch) == 0 {
				continue
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// JSON ответы Shopify

type ordersEnvelope struct {
	Orders []orderJSON `json:"orders"`
}

type orderJSON struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	CreatedAt             time.Time `json:"created_at"`
	FinancialStatus       string    `json:"financial_status"`
	TotalPrice            string    `json:"total_price"`
	TotalTax              string    `json:"total_tax"`
	TotalShippingPriceSet *struct {
		ShopMoney *struct {
			Amount string `json:"amount"`
		} `json:"shop_money"`
	} `json:"total_shipping_price_set"`
	Currency       string `json:"currency"`
	Email          string `json:"email"`
	BillingAddress *struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"billing_address"`
	Refunds []struct {
		ID           int64      `json:"id"`
		ProcessedAt  *time.Time `json:"processed_at"`
		Transactions []struct {
			ID     int64  `json:"id"`
			Kind   string `json:"kind"`
			Status string `json:"status"`
			Amount string `json:"amount"`
		} `json:"transactions"`
	} `json:"refunds"`
}

type payoutsEnvelope struct {
	Payouts []payoutJSON `json:"payouts"`
}

type payoutJSON struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Date     string `json:"date"`
	Summary  struct {
		AdjustmentsFeeAmount string `json:"adjustments_fee_amount"`
		ChargesFeeAmount     string `json:"charges_fee_amount"`
		RefundsFeeAmount     string `json:"refunds_fee_amount"`
	} `json:"summary"`
}

type balanceTransactionsEnvelope struct {
	Transactions []balanceTransactionJSON `json:"transactions"`
}

type balanceTransactionJSON struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	SourceOrderID *int64 `json:"source_order_id"`
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Net           string `json:"net"`
}

func convertOrders(env ordersEnvelope) ([]Order, error) {
	orders := make([]Order, 0, len(env.Orders))
	for _, raw := range env.Orders {
		order, err := convertOrder(raw)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", raw.ID, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func convertOrder(raw orderJSON) (Order, error) {
	gross, err := ToCents(raw.TotalPrice)
	if err != nil {
		return Order{}, err
	}
	taxes, err := ToCents(raw.TotalTax)
	if err != nil {
		return Order{}, err
	}
	var shippingAmount string
	if raw.TotalShippingPriceSet != nil && raw.TotalShippingPriceSet.ShopMoney != nil {
		shippingAmount = raw.TotalShippingPriceSet.ShopMoney.Amount
	}
	shipping, err := ToCents(shippingAmount)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID: strconv.FormatInt(raw.ID, 10),
		Data: model.OrderData{
			OrderNumber:          raw.Name,
			OrderDate:            raw.CreatedAt,
			GrossRevenueCents:    gross,
			ShippingChargedCents: shipping,
			TaxesCents:           taxes,
			Currency:             raw.Currency,
			Status:               OrderStatus(raw.FinancialStatus),
			CustomerName:         customerName(raw),
			CustomerEmail:        raw.Email,
		},
	}

	// только успешные транзакции возврата
	for _, refund := range raw.Refunds {
		date := raw.CreatedAt
		if refund.ProcessedAt != nil {
			date = *refund.ProcessedAt
		}
		for _, txn := range refund.Transactions {
			if txn.Kind != "refund" || txn.Status != "success" {
				continue
			}
			amount, err := ToCents(txn.Amount)
			if err != nil {
				return Order{}, fmt.Errorf("refund transaction %d: %w", txn.ID, err)
			}
			order.Refunds = append(order.Refunds, Refund{AmountCents: amount, Date: date})
		}
	}
	return order, nil
}

// OrderStatus maps Shopify's financial_status onto the closed status set.
func OrderStatus(financialStatus string) model.OrderStatus {
	switch financialStatus {
	case "refunded":
		return model.OrderStatusRefunded
	case "voided":
		return model.OrderStatusCancelled
	default:
		return model.OrderStatusClosed
	}
}

func customerName(raw orderJSON) string {
	if raw.BillingAddress == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{raw.BillingAddress.FirstName, raw.BillingAddress.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func convertPayouts(env payoutsEnvelope) ([]Payout, error) {
	payouts := make([]Payout, 0, len(env.Payouts))
	for _, raw := range env.Payouts {
		payout, err := convertPayout(raw)
		if err != nil {
			return nil, fmt.Errorf("payout %d: %w", raw.ID, err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, nil
}

func convertPayout(raw payoutJSON) (Payout, error) {
	var (
		data model.PayoutData
		err  error
	)
	if data.TotalCents, err = ToCents(raw.Amount); err != nil {
		return Payout{}, err
	}
	if data.ChargesFeeCents, err = ToCents(raw.Summary.ChargesFeeAmount); err != nil {
		return Payout{}, err
	}
	if data.AdjustmentsFeeCents, err = ToCents(raw.Summary.AdjustmentsFeeAmount); err != nil {
		return Payout{}, err
	}
	if data.RefundsFeeCents, err = ToCents(raw.Summary.RefundsFeeAmount); err != nil {
		return Payout{}, err
	}
	if data.Date, err = parseDate(raw.Date); err != nil {
		return Payout{}, err
	}
	data.Status = raw.Status
	data.Currency = raw.Currency
	return Payout{ID: strconv.FormatInt(raw.ID, 10), Data: data}, nil
}

// parseDate принимает и "2006-01-02", и RFC3339
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func convertBalanceTransactions(env balanceTransactionsEnvelope) ([]BalanceTransaction, error) {
	txns := make([]BalanceTransaction, 0, len(env.Transactions))
	for _, raw := range env.Transactions {
		fee, err := ToCents(raw.Fee)
		if err != nil {
			return nil, fmt.Errorf("balance transaction %d: %w", raw.ID, err)
		}
		txn := BalanceTransaction{
			ID:       strconv.FormatInt(raw.ID, 10),
			Type:     raw.Type,
			FeeCents: fee,
		}
		if raw.SourceOrderID != nil {
			txn.SourceOrderID = strconv.FormatInt(*raw.SourceOrderID, 10)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
