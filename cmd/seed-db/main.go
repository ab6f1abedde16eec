package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

type productJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image"`
}

type keyOptions struct {
	key    string
	id     string
	userID string
	admin  bool
	pepper string
}

func main() {
	var (
		databaseURL  string
		productsFile string
		opts         keyOptions
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally .json.gz")
	flag.StringVar(&opts.key, "api-key", "", "API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&opts.id, "api-key-id", "default", "API key record id")
	flag.StringVar(&opts.userID, "user-id", "", "user the API key authenticates as (or KART_SEED_USER_ID env)")
	flag.BoolVar(&opts.admin, "admin", false, "grant the "+auth.ScopeOrdersAdmin+" scope")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("KART_DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.key == "" {
		opts.key = os.Getenv("KART_SEED_API_KEY")
	}
	if opts.key == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if opts.userID == "" {
		opts.userID = os.Getenv("KART_SEED_USER_ID")
	}
	if opts.userID == "" {
		opts.userID = opts.id
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string, opts keyOptions) error {
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

	products, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))
	if err := postgres.NewProductRepository(pool).Upsert(ctx, products...); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer gz.Close()
		r = gz
	}
	return decodeProducts(r)
}

func decodeProducts(r io.Reader) ([]product.Product, error) {
	var raw []productJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	products := make([]product.Product, 0, len(raw))
	for i, p := range raw {
		if p.ID == "" || p.Name == "" {
			return nil, errors.Errorf("product #%d: id and name are required", i)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %s: negative price", p.ID)
		}
		products = append(products, product.Product{
			ID:    p.ID,
			Name:  p.Name,
			Price: p.Price.Round(2),
			Image: p.Image,
		})
	}
	return products, nil
}

type keyStore interface {
	Upsert(ctx context.Context, k auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, store keyStore, opts keyOptions) error {
	slog.Info("seeding API key", slog.String("id", opts.id), slog.String("user_id", opts.userID))

	scopes := []string{}
	if opts.admin {
		scopes = append(scopes, auth.ScopeOrdersAdmin)
	}
	if err := store.Upsert(ctx, auth.APIKeyInfo{
		ID:      opts.id,
		KeyHash: auth.HashKey([]byte(opts.pepper), opts.key),
		Name:    "Seeded key for " + opts.userID,
		UserID:  opts.userID,
		Scopes:  scopes,
	}); err != nil {
		return errors.Wrapf(err, "upsert API key %s", opts.id)
	}

	slog.Info("upserted API key", slog.String("id", opts.id), slog.Any("scopes", scopes))
	return nil
}
