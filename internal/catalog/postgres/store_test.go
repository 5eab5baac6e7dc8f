package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/catalog/postgres"
	"github.com/JonMunkholm/catalogimport/internal/importer"
)

// openTestStore connects to CATALOG_TEST_DATABASE_URL in a throwaway schema.
func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("CATALOG_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CATALOG_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	schema := "catalog_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Migrate is idempotent
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	store := postgres.New(pool)
	err = store.RunInTx(ctx, func(tx catalog.Tx) error {
		if err := tx.CreateShippingCategory(ctx, &catalog.ShippingCategory{Name: "Default"}); err != nil {
			return err
		}
		return tx.CreateStockLocation(ctx, &catalog.StockLocation{Name: "Main", Default: true})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func importCSV(t *testing.T, store catalog.Store, text string) *importer.Result {
	t.Helper()
	rows, err := importer.NewRowReader(strings.NewReader(text), importer.SourceOptions{Encoding: "utf-8"})
	if err != nil {
		t.Fatalf("NewRowReader() error = %v", err)
	}
	res, err := importer.NewEngine(store).Run(context.Background(), rows)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func TestStore_ImportAndReimport(t *testing.T) {
	store := openTestStore(t)
	const text = `slug,name,price,option_types,sku,option_values,stocks,properties
tee,T-Shirt,20.00,Size,,,,Material->Cotton
,,,,TEE-S,Size->Small,Main->5,
,,,,TEE-M,,,
mug,Mug,7.5,,,,3,
`
	res := importCSV(t, store, text)
	if res.Committed != 1 || len(res.Failed) != 1 {
		t.Fatalf("Committed/Failed = %d/%d", res.Committed, len(res.Failed))
	}

	ctx := context.Background()
	err := store.RunInTx(ctx, func(tx catalog.Tx) error {
		if _, err := tx.FindProductBySlug(ctx, "TEE"); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("tee should be rolled back, err = %v", err)
		}
		mug, err := tx.FindProductBySlug(ctx, "MUG")
		if err != nil {
			t.Fatalf("FindProductBySlug() error = %v", err)
		}
		variants, err := tx.ListVariants(ctx, mug.ID)
		if err != nil || len(variants) != 1 || !variants[0].IsMaster {
			t.Fatalf("variants = %+v, %v", variants, err)
		}
		if variants[0].Price.String() != "7.5" {
			t.Errorf("price = %s", variants[0].Price)
		}
		stock, err := tx.ListStock(ctx, variants[0].ID)
		if err != nil || len(stock) != 1 || stock[0].CountOnHand != 3 {
			t.Errorf("stock = %+v, %v", stock, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	fixed := strings.Replace(text, ",,,,TEE-M,,,", ",,,,TEE-M,size->Medium,,", 1)
	res = importCSV(t, store, fixed)
	if !res.Succeeded() {
		t.Fatalf("corrected file failed: %+v", res.Failed)
	}

	err = store.RunInTx(ctx, func(tx catalog.Tx) error {
		tee, err := tx.FindProductBySlug(ctx, "tee")
		if err != nil {
			t.Fatalf("FindProductBySlug() error = %v", err)
		}
		if len(tee.OptionTypeIDs) != 1 || len(tee.Properties) != 1 {
			t.Errorf("tee links = %v / %+v", tee.OptionTypeIDs, tee.Properties)
		}
		variants, _ := tx.ListVariants(ctx, tee.ID)
		if len(variants) != 3 {
			t.Errorf("tee has %d variants, want master + 2", len(variants))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStore_Imports(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := &catalog.ImportRecord{
		ID:       uuid.NewString(),
		FileName: "catalog.csv",
		FilePath: "/tmp/catalog.csv",
		Encoding: "iso-8859-1",
		Status:   catalog.ImportPending,
	}
	if err := store.CreateImport(ctx, rec); err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}

	finished := time.Now().Add(-48 * time.Hour)
	rec.Status = catalog.ImportFailed
	rec.Failed = 2
	rec.ReportPath = "/tmp/report.csv"
	rec.FinishedAt = &finished
	if err := store.UpdateImport(ctx, rec); err != nil {
		t.Fatalf("UpdateImport() error = %v", err)
	}

	got, err := store.GetImport(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	if got.Status != catalog.ImportFailed || got.Failed != 2 || !got.HasReport() {
		t.Errorf("record = %+v", got)
	}

	cleared, err := store.ClearReports(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ClearReports() error = %v", err)
	}
	if len(cleared) != 1 || cleared[0] != "/tmp/report.csv" {
		t.Errorf("cleared = %v", cleared)
	}

	if _, err := store.GetImport(ctx, uuid.NewString()); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetImport(unknown) error = %v, want ErrNotFound", err)
	}
}
