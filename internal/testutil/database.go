package testutil

import (
	"testing"

	"zt-go/internal/database"
	"zt-go/internal/zt"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied. It is closed automatically when the test completes.
func NewTestDatabase(t *testing.T, clock zt.Clock) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", nil, clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
