package registration

import (
	"context"
	"database/sql"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/proofchain/db"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

// Store is the off-chain registration record store.
type Store interface {
	// Register persists rec, idempotent on RegKey. created is false when the
	// key was already present; the stored record is returned either way.
	Register(ctx context.Context, rec *Record) (stored *Record, created bool, err error)
	// FindByRegistrationKey returns nil, nil when absent.
	FindByRegistrationKey(ctx context.Context, r keys.RegistrationKey) (*Record, error)
	FindByContentKey(ctx context.Context, k keys.ContentKey) ([]*Record, error)
	FindByLocator(ctx context.Context, locator string) ([]*Record, error)
	All(ctx context.Context) ([]*Record, error)
	Update(ctx context.Context, sel Selector, patch Patch) (int, error)
	DistinctSigners(ctx context.Context, k keys.ContentKey) (int, error)
}

// Selector picks the records an Update applies to. Exactly one field is set.
type Selector struct {
	RegKey     *keys.RegistrationKey
	ContentKey *keys.ContentKey
	DigestHex  string
}

// ByRegKey selects a single record.
func ByRegKey(r keys.RegistrationKey) Selector { return Selector{RegKey: &r} }

// ByContentKey selects every record of a content key.
func ByContentKey(k keys.ContentKey) Selector { return Selector{ContentKey: &k} }

// ByDigest selects every record of a digest.
func ByDigest(digestHex string) Selector { return Selector{DigestHex: digestHex} }

func (s Selector) where() (string, interface{}, error) {
	set := 0
	var clause string
	var arg interface{}
	if s.RegKey != nil {
		set++
		clause, arg = "reg_key = ?", s.RegKey.Hex()
	}
	if s.ContentKey != nil {
		set++
		clause, arg = "content_key = ?", s.ContentKey.Hex()
	}
	if s.DigestHex != "" {
		set++
		d, err := keys.ParseDigest(s.DigestHex)
		if err != nil {
			return "", nil, err
		}
		clause, arg = "digest_hex = ?", d.Hex()
	}
	if set != 1 {
		return "", nil, errors.NewInvalidRequestError("selector must set exactly one field, got %d", set)
	}
	return clause, arg, nil
}

// Patch is the set of fields that may change after creation. Nil fields are left alone.
// NearDuplicateOf and its similarity are written only while the record has no lineage.
type Patch struct {
	Embedding               []float32
	EmbeddingDigest         *string
	EmbeddingError          *string
	LedgerTx                *string
	LedgerStatus            *LedgerStatus
	Status                  *Status
	NearDuplicateOf         *keys.RegistrationKey
	NearDuplicateSimilarity *float64
}

func (p Patch) empty() bool {
	return p.Embedding == nil && p.EmbeddingDigest == nil && p.EmbeddingError == nil &&
		p.LedgerTx == nil && p.LedgerStatus == nil && p.Status == nil &&
		p.NearDuplicateOf == nil && p.NearDuplicateSimilarity == nil
}

// SQLStore implements Store on SQLite. Writes are serialized through one
// mutex and an immediate transaction; reads go straight to the pool.
type SQLStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	now    func() time.Time

	writeMu sync.Mutex
}

// NewSQLStore creates a store over a migrated database.
func NewSQLStore(conn *sql.DB, logger *zap.SugaredLogger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLStore{
		db:     conn,
		logger: logger.Named("registration.store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

const recordColumns = `id, reg_key, content_key, signer_id, digest_hex, content_locator, file_name,
	perceptual_hash, embedding, embedding_digest, embedding_error,
	near_duplicate_of, near_duplicate_similarity, ledger_tx, ledger_status, status,
	signature_status, kyc_present, nonce_source, attempts, created_at, updated_at`

func validate(rec *Record) error {
	if rec == nil {
		return errors.NewInvalidRequestError("nil record")
	}
	var zero [keys.Size]byte
	if rec.RegKey == zero || rec.ContentKey == zero {
		return errors.NewInvalidRequestError("record keys must be derived before registering")
	}
	d, err := keys.ParseDigest(rec.DigestHex)
	if err != nil {
		return err
	}
	if keys.ContentKeyOf(d) != rec.ContentKey {
		return errors.NewInvalidRequestError("content key does not match digest %s", d.Hex())
	}
	if strings.TrimSpace(rec.SignerID) == "" {
		return errors.NewInvalidRequestError("signer id is required")
	}
	if rec.NonceSource == "" {
		return errors.NewInvalidRequestError("nonce source is required")
	}
	return nil
}

func (s *SQLStore) Register(ctx context.Context, rec *Record) (*Record, bool, error) {
	if err := validate(rec); err != nil {
		return nil, false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, created, err := s.register(ctx, rec)
	if db.IsUniqueViolation(err) {
		// another process sharing the file inserted the key first
		s.logger.Debugw("Registration insert raced, retrying", "reg_key", rec.RegKey.Hex())
		stored, created, err = s.register(ctx, rec)
	}
	return stored, created, err
}

func (s *SQLStore) register(ctx context.Context, rec *Record) (*Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "begin register transaction")
	}
	defer tx.Rollback()

	now := s.now()
	existing, err := queryOne(ctx, tx, `SELECT `+recordColumns+` FROM registrations WHERE reg_key = ?`, rec.RegKey.Hex())
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE registrations SET attempts = attempts + 1, updated_at = ? WHERE reg_key = ?`,
			now, rec.RegKey.Hex()); err != nil {
			return nil, false, errors.Wrapf(err, "bump attempts for %s", rec.RegKey.Hex())
		}
		if err := tx.Commit(); err != nil {
			return nil, false, errors.Wrap(err, "commit register transaction")
		}
		existing.Attempts++
		existing.UpdatedAt = now
		s.logger.Debugw("Registration already stored",
			"reg_key", rec.RegKey.Hex(),
			"attempts", existing.Attempts,
		)
		return existing, false, nil
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.LedgerStatus == "" {
		stored.LedgerStatus = LedgerNone
	}
	if stored.Status == "" {
		stored.Status = StatusVerified
	}
	if stored.SignatureStatus == "" {
		stored.SignatureStatus = SignatureSkipped
	}
	stored.DigestHex = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(stored.DigestHex), "0x"), "0X"))
	stored.Attempts = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `INSERT INTO registrations (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.RegKey.Hex(), stored.ContentKey.Hex(), stored.SignerID, stored.DigestHex,
		stored.ContentLocator, stored.FileName,
		nullString(stored.PerceptualHash), EncodeEmbedding(stored.Embedding),
		nullString(stored.EmbeddingDigest), nullString(stored.EmbeddingError),
		nullRegKey(stored.NearDuplicateOf), nullFloat(stored.NearDuplicateSimilarity),
		nullString(stored.LedgerTx), string(stored.LedgerStatus), string(stored.Status),
		string(stored.SignatureStatus), stored.KYCPresent, string(stored.NonceSource), stored.Attempts,
		stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "insert registration %s", stored.RegKey.Hex())
	}
	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "commit register transaction")
	}

	s.logger.Infow("Registration stored",
		"reg_key", stored.RegKey.Hex(),
		"content_key", stored.ContentKey.Hex(),
		"signer", stored.SignerID,
		"nonce_source", stored.NonceSource,
	)
	return stored.Clone(), true, nil
}

func (s *SQLStore) FindByRegistrationKey(ctx context.Context, r keys.RegistrationKey) (*Record, error) {
	return queryOne(ctx, s.db, `SELECT `+recordColumns+` FROM registrations WHERE reg_key = ?`, r.Hex())
}

func (s *SQLStore) FindByContentKey(ctx context.Context, k keys.ContentKey) ([]*Record, error) {
	return queryMany(ctx, s.db, `SELECT `+recordColumns+` FROM registrations WHERE content_key = ? ORDER BY created_at, rowid`, k.Hex())
}

func (s *SQLStore) FindByLocator(ctx context.Context, locator string) ([]*Record, error) {
	if locator == "" {
		return nil, nil
	}
	return queryMany(ctx, s.db, `SELECT `+recordColumns+` FROM registrations WHERE content_locator = ? ORDER BY created_at, rowid`, locator)
}

func (s *SQLStore) All(ctx context.Context) ([]*Record, error) {
	return queryMany(ctx, s.db, `SELECT `+recordColumns+` FROM registrations ORDER BY created_at, rowid`)
}

func (s *SQLStore) DistinctSigners(ctx context.Context, k keys.ContentKey) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT LOWER(signer_id)) FROM registrations WHERE content_key = ?`, k.Hex()).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count signers for %s", k.Hex())
	}
	return n, nil
}

func (s *SQLStore) Update(ctx context.Context, sel Selector, patch Patch) (int, error) {
	where, arg, err := sel.where()
	if err != nil {
		return 0, err
	}
	if patch.empty() {
		return 0, nil
	}

	var sets []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		sets = append(sets, clause)
		args = append(args, v)
	}

	if patch.Embedding != nil {
		add("embedding = ?", EncodeEmbedding(patch.Embedding))
	}
	if patch.EmbeddingDigest != nil {
		add("embedding_digest = ?", *patch.EmbeddingDigest)
	}
	if patch.EmbeddingError != nil {
		add("embedding_error = NULLIF(?, '')", *patch.EmbeddingError)
	}
	if patch.LedgerTx != nil {
		add("ledger_tx = ?", *patch.LedgerTx)
	}
	if patch.LedgerStatus != nil {
		add("ledger_status = ?", string(*patch.LedgerStatus))
	}
	if patch.Status != nil {
		add("status = ?", string(*patch.Status))
	}
	// Right-hand sides read pre-update values, so both guards see the old lineage
	if patch.NearDuplicateOf != nil {
		add("near_duplicate_of = COALESCE(near_duplicate_of, ?)", patch.NearDuplicateOf.Hex())
	}
	if patch.NearDuplicateSimilarity != nil {
		add("near_duplicate_similarity = CASE WHEN near_duplicate_of IS NULL THEN ? ELSE near_duplicate_similarity END",
			*patch.NearDuplicateSimilarity)
	}
	add("updated_at = ?", s.now())
	args = append(args, arg)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE registrations SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "update registrations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return int(n), nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryOne(ctx context.Context, q querier, query string, args ...interface{}) (*Record, error) {
	recs, err := queryMany(ctx, q, query, args...)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func queryMany(ctx context.Context, q querier, query string, args ...interface{}) ([]*Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query registrations")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate registrations")
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		rec                                                          Record
		regKey, contentKey, ledgerStatus, status, sigStatus, nonceSrc string
		phash, embDigest, embErr, nearDup, ledgerTx                  sql.NullString
		nearSim                                                      sql.NullFloat64
		embedding                                                    []byte
	)
	err := rows.Scan(&rec.ID, &regKey, &contentKey, &rec.SignerID, &rec.DigestHex, &rec.ContentLocator, &rec.FileName,
		&phash, &embedding, &embDigest, &embErr,
		&nearDup, &nearSim, &ledgerTx, &ledgerStatus, &status,
		&sigStatus, &rec.KYCPresent, &nonceSrc, &rec.Attempts, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "scan registration")
	}

	if rec.RegKey, err = keys.ParseRegistrationKey(regKey); err != nil {
		return nil, errors.Wrapf(err, "stored reg_key of %s", rec.ID)
	}
	if rec.ContentKey, err = keys.ParseContentKey(contentKey); err != nil {
		return nil, errors.Wrapf(err, "stored content_key of %s", rec.ID)
	}
	if rec.Embedding, err = DecodeEmbedding(embedding); err != nil {
		return nil, errors.Wrapf(err, "stored embedding of %s", rec.ID)
	}
	if nearDup.Valid {
		parent, err := keys.ParseRegistrationKey(nearDup.String)
		if err != nil {
			return nil, errors.Wrapf(err, "stored near_duplicate_of of %s", rec.ID)
		}
		rec.NearDuplicateOf = &parent
	}
	rec.PerceptualHash = stringPtr(phash)
	rec.EmbeddingDigest = stringPtr(embDigest)
	rec.EmbeddingError = stringPtr(embErr)
	rec.LedgerTx = stringPtr(ledgerTx)
	if nearSim.Valid {
		v := nearSim.Float64
		rec.NearDuplicateSimilarity = &v
	}
	rec.LedgerStatus = LedgerStatus(ledgerStatus)
	rec.Status = Status(status)
	rec.SignatureStatus = SignatureStatus(sigStatus)
	rec.NonceSource = keys.NonceSource(nonceSrc)
	return &rec, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullRegKey(p *keys.RegistrationKey) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: hex.EncodeToString(p[:]), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
