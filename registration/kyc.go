package registration

import (
	"context"
	"database/sql"
	"strings"

	"github.com/teranos/proofchain/errors"
)

// KYCDirectory answers whether a signer has completed identity verification.
// The directory is filled by the external KYC flow.
type KYCDirectory interface {
	HasKYC(ctx context.Context, signer string) (bool, error)
}

// SQLKYCDirectory reads the kyc_subjects table. A subject counts once it has
// an email or phone on file.
type SQLKYCDirectory struct {
	db *sql.DB
}

// NewSQLKYCDirectory wraps a migrated database.
func NewSQLKYCDirectory(db *sql.DB) *SQLKYCDirectory {
	return &SQLKYCDirectory{db: db}
}

func (d *SQLKYCDirectory) HasKYC(ctx context.Context, signer string) (bool, error) {
	signer = strings.TrimSpace(signer)
	if signer == "" {
		return false, nil
	}
	var present bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM kyc_subjects
		 WHERE signer_id = ? AND (COALESCE(email, '') <> '' OR COALESCE(phone, '') <> ''))`,
		signer).Scan(&present)
	if err != nil {
		return false, errors.Wrapf(err, "kyc lookup for %s", signer)
	}
	return present, nil
}
