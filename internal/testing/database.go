package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/proofchain/db"
)

// CreateTestDB creates a migrated in-memory SQLite test database.
// The pool is pinned to one connection so every query sees the same memory database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:?_txlock=immediate")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// SeedKYC inserts a KYC subject row for signer.
func SeedKYC(t *testing.T, conn *sql.DB, signer, email, phone string) {
	t.Helper()

	_, err := conn.Exec(`INSERT INTO kyc_subjects (signer_id, email, phone) VALUES (?, NULLIF(?, ''), NULLIF(?, ''))`,
		signer, email, phone)
	if err != nil {
		t.Fatalf("Failed to seed KYC subject: %v", err)
	}
}
