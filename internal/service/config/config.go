package config

import "time"

type Config struct {
	// Shopify Admin API
	APIVersion   string `env:"SHOPIFY_API_VERSION" env-default:"2025-01"`
	ClientID     string `env:"SHOPIFY_CLIENT_ID"`
	ClientSecret string `env:"SHOPIFY_CLIENT_SECRET"`
	Scopes       string `env:"SHOPIFY_SCOPES" env-default:"read_orders,read_finances,read_shipping"`
	AppURL       string `env:"APP_URL" env-default:"http://localhost:8080"`

	// Постраничная выборка
	PageSize             int           `env:"PAGE_SIZE" env-default:"250"`
	PageDelay            time.Duration `env:"PAGE_DELAY" env-default:"500ms"`
	RateLimitDefaultWait time.Duration `env:"RATE_LIMIT_DEFAULT_WAIT" env-default:"5s"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" env-default:"30s"`

	// Стоимость доставки (пустой адрес отключает дозаполнение)
	ShippingCostURL          string  `env:"SHIPPING_COST_URL"`
	ShippingLookupsPerSecond float64 `env:"SHIPPING_LOOKUPS_PER_SECOND" env-default:"2"`
	ShippingBackfillLimit    int     `env:"SHIPPING_BACKFILL_LIMIT" env-default:"500"`
}
