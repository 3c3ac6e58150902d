package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
)

// SequenceRepository hands out per-facility, per-prefix, per-day
// document sequence numbers.
type SequenceRepository struct {
	q database.Queryer
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *SequenceRepository) WithTx(tx *sqlx.Tx) *SequenceRepository {
	return &SequenceRepository{q: tx}
}

// Next returns the next sequence number for the (facility, prefix, day)
// counter. The upsert is atomic: concurrent callers serialize on the
// counter row and never see the same number.
func (r *SequenceRepository) Next(ctx context.Context, facilityCode, prefix string, date time.Time) (int, error) {
	var seq int
	query := `
		INSERT INTO document_sequences (facility_code, doc_prefix, seq_date, last_seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (facility_code, doc_prefix, seq_date)
		DO UPDATE SET last_seq = document_sequences.last_seq + 1
		RETURNING last_seq
	`
	if err := r.q.QueryRowxContext(ctx, query, facilityCode, prefix, date).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
