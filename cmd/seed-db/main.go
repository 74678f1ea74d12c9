// Command seed-db prepares a database for local development: it runs
// migrations, loads the catalog replica, creates a few sample rules, and
// registers an administrative API key.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/storage/postgres"
)

type catalogJSON struct {
	Categories []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
	Products []struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Category string          `json:"category"`
		Price    decimal.Decimal `json:"price"`
	} `json:"products"`
}

const (
	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertProductSQL = `INSERT INTO products (id, name, category_id, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category_id = EXCLUDED.category_id,
			price = EXCLUDED.price`

	upsertDiscountSQL = `INSERT INTO discounts (id, name, description, discount_type, value,
		target_type, category_ids, product_ids, starts_at, ends_at, active,
		min_order_amount, max_discount_amount, usage_limit, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $12, $13, 0)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			target_type = EXCLUDED.target_type,
			category_ids = EXCLUDED.category_ids,
			product_ids = EXCLUDED.product_ids,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			active = TRUE,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			usage_limit = EXCLUDED.usage_limit`

	upsertCouponSQL = `INSERT INTO coupons (id, code, description, discount_type, value,
		min_order_amount, max_discount_amount, usage_limit, user_usage_limit,
		used_count, product_ids, category_ids, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12, $13, TRUE)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			usage_limit = EXCLUDED.usage_limit,
			user_usage_limit = EXCLUDED.user_usage_limit,
			product_ids = EXCLUDED.product_ids,
			category_ids = EXCLUDED.category_ids,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name,
			scopes = EXCLUDED.scopes,
			active = TRUE`
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedRules(ctx, pool); err != nil {
		return errors.Wrap(err, "seed rules")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting catalog",
		slog.Int("categories", len(catalog.Categories)),
		slog.Int("products", len(catalog.Products)),
	)

	for _, c := range catalog.Categories {
		if _, err := pool.Exec(ctx, upsertCategorySQL, c.ID, c.Name); err != nil {
			return errors.Wrapf(err, "upsert category %s", c.ID)
		}
	}

	for _, p := range catalog.Products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category, p.Price); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedRules(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding sample rules")

	now := time.Now().UTC()
	year := now.Add(365 * 24 * time.Hour)

	discounts := []struct {
		id, name, description, discountType, targetType string
		value, minOrder, maxAmount                      decimal.Decimal
		categoryIDs, productIDs                         []string
		usageLimit                                      int
	}{
		{
			id:           "d-electronics-10",
			name:         "Electronics Week",
			description:  "10% off all electronics",
			discountType: "percentage",
			value:        decimal.NewFromInt(10),
			targetType:   "category",
			categoryIDs:  []string{"electronics"},
			maxAmount:    decimal.NewFromInt(50),
		},
		{
			id:           "d-sneaker-drop",
			name:         "Sneaker Drop",
			description:  "$15 off canvas sneakers",
			discountType: "fixed",
			value:        decimal.NewFromInt(15),
			targetType:   "product",
			productIDs:   []string{"p-sneakers"},
		},
	}

	for _, d := range discounts {
		if _, err := pool.Exec(ctx, upsertDiscountSQL,
			d.id, d.name, d.description, d.discountType, d.value,
			d.targetType, d.categoryIDs, d.productIDs, now, year,
			d.minOrder, d.maxAmount, d.usageLimit,
		); err != nil {
			return errors.Wrapf(err, "upsert discount %s", d.id)
		}
		slog.Info("upserted discount", slog.String("id", d.id), slog.String("name", d.name))
	}

	coupons := []struct {
		id, code, description, discountType string
		value, minOrder, maxAmount          decimal.Decimal
		usageLimit, userUsageLimit          int
		productIDs, categoryIDs             []string
	}{
		{
			id:           "c-save10",
			code:         "SAVE10",
			description:  "10% off, up to $15",
			discountType: "percentage",
			value:        decimal.NewFromInt(10),
			maxAmount:    decimal.NewFromInt(15),
		},
		{
			id:             "c-welcome",
			code:           "WELCOME20",
			description:    "20% off your first order",
			discountType:   "percentage",
			value:          decimal.NewFromInt(20),
			userUsageLimit: 1,
		},
		{
			id:           "c-tech5",
			code:         "TECH5",
			description:  "$5 off electronics orders over $50",
			discountType: "fixed",
			value:        decimal.NewFromInt(5),
			minOrder:     decimal.NewFromInt(50),
			categoryIDs:  []string{"electronics"},
			usageLimit:   1000,
		},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.id, c.code, c.description, c.discountType, c.value,
			c.minOrder, c.maxAmount, c.usageLimit, c.userUsageLimit,
			c.productIDs, c.categoryIDs, now, year,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}
		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("description", c.description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		"admin", keyHash, "Default admin key", []string{"admin"},
	); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", "admin"), slog.String("name", "Default admin key"))

	return nil
}
