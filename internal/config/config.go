package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration shared by the API and the worker.
// It is loaded once at startup and passed to the components that need it.
type Config struct {
	RunLocal bool
	HTTPAddr string
	LogLevel string

	AWSRegion   string
	AWSEndpoint string

	ProductsTable    string
	UsersTable       string
	OrdersTable      string
	OrdersUserIndex  string
	IdempotencyTable string
	IdempotencyTTL   time.Duration

	ReservationQueueURL string
	AlertQueueURL       string
	InvoiceBucket       string
	InvoiceURLTTL       time.Duration

	RedisURL        string
	CatalogCacheTTL time.Duration

	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	AdminEmail    string
	AdminPassword string

	// PromoCodes maps upper-cased code -> percent discount.
	PromoCodes map[string]int

	StripeSecretKey    string
	FrontendURL        string
	Currency           string
	CurrencyMultiplier int64
	DeliveryFee        float64
	PaymentMethod      string
	ReservationTTL     time.Duration

	ChromePath    string
	RenderTimeout time.Duration
}

// configFile mirrors the optional YAML file.
type configFile struct {
	Server struct {
		Addr     string `yaml:"addr"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	AWS struct {
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"aws"`
	Tables struct {
		Products    string `yaml:"products"`
		Users       string `yaml:"users"`
		Orders      string `yaml:"orders"`
		OrdersIndex string `yaml:"orders_user_index"`
		Idempotency string `yaml:"idempotency"`
	} `yaml:"tables"`
	Queues struct {
		Reservation string `yaml:"reservation"`
		Alerts      string `yaml:"alerts"`
	} `yaml:"queues"`
	Invoice struct {
		Bucket     string `yaml:"bucket"`
		ChromePath string `yaml:"chrome_path"`
	} `yaml:"invoice"`
	Checkout struct {
		FrontendURL        string         `yaml:"frontend_url"`
		Currency           string         `yaml:"currency"`
		CurrencyMultiplier int64          `yaml:"currency_multiplier"`
		DeliveryFee        *float64       `yaml:"delivery_fee"`
		PaymentMethod      string         `yaml:"payment_method"`
		ReservationMinutes int            `yaml:"reservation_minutes"`
		PromoCodes         map[string]int `yaml:"promo_codes"`
	} `yaml:"checkout"`
	RedisURL string `yaml:"redis_url"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":4000",
		LogLevel:           "info",
		ProductsTable:      "textiles",
		UsersTable:         "users",
		OrdersTable:        "orders",
		OrdersUserIndex:    "user_id-index",
		IdempotencyTable:   "idempotency",
		IdempotencyTTL:     48 * time.Hour,
		InvoiceURLTTL:      24 * time.Hour,
		CatalogCacheTTL:    time.Minute,
		TokenTTL:           7 * 24 * time.Hour,
		BcryptCost:         10,
		PromoCodes:         map[string]int{},
		FrontendURL:        "http://localhost:5173",
		Currency:           "inr",
		CurrencyMultiplier: 80,
		DeliveryFee:        2,
		PaymentMethod:      "Online",
		ReservationTTL:     30 * time.Minute,
		RenderTimeout:      30 * time.Second,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var f configFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			applyFile(&cfg, f)
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	setString(&cfg.HTTPAddr, f.Server.Addr)
	setString(&cfg.LogLevel, f.Server.LogLevel)
	setString(&cfg.AWSRegion, f.AWS.Region)
	setString(&cfg.AWSEndpoint, f.AWS.Endpoint)
	setString(&cfg.ProductsTable, f.Tables.Products)
	setString(&cfg.UsersTable, f.Tables.Users)
	setString(&cfg.OrdersTable, f.Tables.Orders)
	setString(&cfg.OrdersUserIndex, f.Tables.OrdersIndex)
	setString(&cfg.IdempotencyTable, f.Tables.Idempotency)
	setString(&cfg.ReservationQueueURL, f.Queues.Reservation)
	setString(&cfg.AlertQueueURL, f.Queues.Alerts)
	setString(&cfg.InvoiceBucket, f.Invoice.Bucket)
	setString(&cfg.ChromePath, f.Invoice.ChromePath)
	setString(&cfg.FrontendURL, f.Checkout.FrontendURL)
	setString(&cfg.Currency, f.Checkout.Currency)
	setString(&cfg.PaymentMethod, f.Checkout.PaymentMethod)
	setString(&cfg.RedisURL, f.RedisURL)
	if f.Checkout.CurrencyMultiplier > 0 {
		cfg.CurrencyMultiplier = f.Checkout.CurrencyMultiplier
	}
	if f.Checkout.DeliveryFee != nil {
		cfg.DeliveryFee = *f.Checkout.DeliveryFee
	}
	if f.Checkout.ReservationMinutes > 0 {
		cfg.ReservationTTL = time.Duration(f.Checkout.ReservationMinutes) * time.Minute
	}
	for code, pct := range f.Checkout.PromoCodes {
		if c := normalizeCode(code); c != "" && validPercent(pct) {
			cfg.PromoCodes[c] = pct
		}
	}
}

func applyEnv(cfg *Config) error {
	cfg.RunLocal = envBool("RUN_LOCAL", cfg.RunLocal)
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.AWSRegion = envOrDefault("AWS_REGION", cfg.AWSRegion)
	cfg.AWSEndpoint = envOrDefault("AWS_ENDPOINT_OVERRIDE", cfg.AWSEndpoint)
	cfg.ProductsTable = envOrDefault("PRODUCTS_TABLE", cfg.ProductsTable)
	cfg.UsersTable = envOrDefault("USERS_TABLE", cfg.UsersTable)
	cfg.OrdersTable = envOrDefault("ORDERS_TABLE", cfg.OrdersTable)
	cfg.OrdersUserIndex = envOrDefault("ORDERS_USER_INDEX", cfg.OrdersUserIndex)
	cfg.IdempotencyTable = envOrDefault("IDEMPOTENCY_TABLE", cfg.IdempotencyTable)
	cfg.ReservationQueueURL = envOrDefault("RESERVATION_QUEUE_URL", cfg.ReservationQueueURL)
	cfg.AlertQueueURL = envOrDefault("ALERT_QUEUE_URL", cfg.AlertQueueURL)
	cfg.InvoiceBucket = envOrDefault("INVOICE_BUCKET", cfg.InvoiceBucket)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.AdminEmail = envOrDefault("ADMIN_EMAIL", cfg.AdminEmail)
	cfg.AdminPassword = envOrDefault("ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.StripeSecretKey = envOrDefault("STRIPE_SECRET_KEY", cfg.StripeSecretKey)
	cfg.FrontendURL = strings.TrimRight(envOrDefault("FRONTEND_URL", cfg.FrontendURL), "/")
	cfg.Currency = strings.ToLower(envOrDefault("CURRENCY", cfg.Currency))
	cfg.PaymentMethod = envOrDefault("PAYMENT_METHOD", cfg.PaymentMethod)
	cfg.ChromePath = envOrDefault("CHROME_PATH", envOrDefault("PUPPETEER_EXECUTABLE_PATH", cfg.ChromePath))

	var err error
	if cfg.BcryptCost, err = envInt("BCRYPT_COST", cfg.BcryptCost); err != nil {
		return err
	}
	hours, err := envInt("TOKEN_TTL_HOURS", int(cfg.TokenTTL.Hours()))
	if err != nil {
		return err
	}
	cfg.TokenTTL = time.Duration(hours) * time.Hour
	minutes, err := envInt("RESERVATION_TTL_MINUTES", int(cfg.ReservationTTL.Minutes()))
	if err != nil {
		return err
	}
	cfg.ReservationTTL = time.Duration(minutes) * time.Minute
	seconds, err := envInt("RENDER_TIMEOUT_SECONDS", int(cfg.RenderTimeout.Seconds()))
	if err != nil {
		return err
	}
	cfg.RenderTimeout = time.Duration(seconds) * time.Second
	mult, err := envInt("CURRENCY_MULTIPLIER", int(cfg.CurrencyMultiplier))
	if err != nil {
		return err
	}
	cfg.CurrencyMultiplier = int64(mult)
	if raw := strings.TrimSpace(os.Getenv("DELIVERY_FEE")); raw != "" {
		fee, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("DELIVERY_FEE: %w", err)
		}
		cfg.DeliveryFee = fee
	}
	if raw := os.Getenv("PROMO_CODES"); raw != "" {
		for code, pct := range ParsePromoCodes(raw) {
			cfg.PromoCodes[code] = pct
		}
	}
	return nil
}

// Validate reports settings the API cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	for name, v := range map[string]string{
		"PRODUCTS_TABLE":        c.ProductsTable,
		"USERS_TABLE":           c.UsersTable,
		"ORDERS_TABLE":          c.OrdersTable,
		"IDEMPOTENCY_TABLE":     c.IdempotencyTable,
		"RESERVATION_QUEUE_URL": c.ReservationQueueURL,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.DeliveryFee < 0 {
		errs = append(errs, errors.New("delivery fee must not be negative"))
	}
	if c.CurrencyMultiplier <= 0 {
		errs = append(errs, errors.New("currency multiplier must be positive"))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("reservation TTL must be positive"))
	}
	return errors.Join(errs...)
}

// ParsePromoCodes parses "CODE:pct,CODE2:pct". Malformed entries and
// percentages outside 1..100 are skipped.
func ParsePromoCodes(raw string) map[string]int {
	out := map[string]int{}
	for _, entry := range strings.Split(raw, ",") {
		code, pct, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || !validPercent(n) {
			continue
		}
		if c := normalizeCode(code); c != "" {
			out[c] = n
		}
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validPercent(n int) bool {
	return n > 0 && n <= 100
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
