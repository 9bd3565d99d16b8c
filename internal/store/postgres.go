package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"kmc-indicators/internal/models"
)

// PostgresStore reads documents mirrored into the kmc_documents table:
//
//	collection   text
//	doc_id       text
//	hospital_id  text        -- hospitalID reference, or doc_id for hospitals
//	baby_id      text        -- idBaby reference, NULL for reference collections
//	version      bigint
//	effective_at timestamptz -- the collection's time field, NULL when absent
//	body         jsonb       -- field map in the Firestore REST encoding
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// DocumentsTable is the table the store reads.
const DocumentsTable = "kmc_documents"

const fetchQuery = `
	SELECT doc_id, version, body
	FROM kmc_documents
	WHERE collection = $1
	  AND ($2::text[] IS NULL OR hospital_id = ANY($2))
	  AND ($3::timestamptz IS NULL OR effective_at IS NULL OR effective_at >= $3)
	  AND ($4::timestamptz IS NULL OR effective_at IS NULL OR effective_at < $4)
	ORDER BY effective_at ASC NULLS LAST, doc_id ASC
`

const fetchByBabyQuery = `
	SELECT doc_id, version, body
	FROM kmc_documents
	WHERE collection = $1 AND baby_id = ANY($2)
	ORDER BY effective_at ASC NULLS LAST, doc_id ASC
`

const lookupQuery = `
	SELECT version, body
	FROM kmc_documents
	WHERE collection = $1 AND doc_id = $2
`

func (s *PostgresStore) Fetch(ctx context.Context, collection string, scope []string, tr TimeRange) ([]*models.Document, error) {
	var scopeArg interface{}
	if len(scope) > 0 {
		scopeArg = pq.Array(scope)
	}
	var from, to interface{}
	if models.TimeField(collection) != "" {
		from, to = nullTime(tr.From), nullTime(tr.To)
	}

	docs, err := s.query(ctx, collection, fetchQuery, collection, scopeArg, from, to)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Fetched documents",
		zap.String("collection", collection),
		zap.Strings("scope", scope),
		zap.Int("count", len(docs)),
	)
	return docs, nil
}

func (s *PostgresStore) FetchByBaby(ctx context.Context, collection string, babyIDs []string) ([]*models.Document, error) {
	if len(babyIDs) == 0 {
		return nil, nil
	}
	docs, err := s.query(ctx, collection, fetchByBabyQuery, collection, pq.Array(babyIDs))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Fetched documents by baby",
		zap.String("collection", collection),
		zap.Int("babies", len(babyIDs)),
		zap.Int("count", len(docs)),
	)
	return docs, nil
}

// query runs in a read-only repeatable-read transaction so the rows come from
// one snapshot.
func (s *PostgresStore) query(ctx context.Context, collection, query string, args ...interface{}) ([]*models.Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot for %s: %w", collection, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var (
			id      string
			version int64
			body    []byte
		)
		if err := rows.Scan(&id, &version, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		d, err := decodeBody(collection, id, version, body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to close snapshot for %s: %w", collection, err)
	}
	return docs, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, ref models.Ref) (*models.Document, error) {
	var (
		version int64
		body    []byte
	)
	err := s.db.QueryRowContext(ctx, lookupQuery, ref.Collection, ref.ID).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", ref, err)
	}
	return decodeBody(ref.Collection, ref.ID, version, body)
}

func decodeBody(collection, id string, version int64, body []byte) (*models.Document, error) {
	var wire map[string]wireValue
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("malformed body for %s/%s: %w", collection, id, err)
	}
	fields, err := decodeFields(wire)
	if err != nil {
		return nil, fmt.Errorf("malformed body for %s/%s: %w", collection, id, err)
	}
	return &models.Document{Collection: collection, ID: id, Version: version, Fields: fields}, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
