package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/storage/database"
)

// OpenDB connects to the PostgreSQL database configured by the TEST_DATABASE_* variables, migrates it
// and empties every table. The test is skipped when TEST_DATABASE_HOST is not set.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST is not set")
	}
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		t.Fatalf("openDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("openDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Ping(ctx, db); err != nil {
		t.Fatalf("openDB() failed: %v", err)
	}
	if err = database.Migrate(db); err != nil {
		t.Fatalf("openDB() failed: %v", err)
	}
	_, err = db.ExecContext(ctx, `TRUNCATE enrollment, class_session, payment, test_result, placement_test,
		material, student_profile, "user" CASCADE`)
	if err != nil {
		t.Fatalf("openDB() failed: %v", err)
	}
	return db
}
