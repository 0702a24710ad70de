package config

type Config struct {
	ServerAddr    string `env:"RUN_ADDRESS" env-default:":8080"`
	SecureCookies bool   `env:"SECURE_COOKIES" env-default:"false"`
	DefaultShop   string `env:"SHOPIFY_SHOP"`
}
