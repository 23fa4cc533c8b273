package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// DisputeStore implements domain.DisputeStore using PostgreSQL. A deal has
// at most one dispute row, enforced by a unique constraint on deal_id.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

const disputeCols = `id, deal_id, initiator, reason, evidence_links, created_at`

// Create inserts the dispute record written after a dispute transaction
// confirms. A second dispute for the same deal is ErrAlreadyExists.
func (s *DisputeStore) Create(ctx context.Context, d domain.Dispute) error {
	const query = `
		INSERT INTO disputes (id, deal_id, initiator, reason, evidence_links, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.DealID, d.Initiator, d.Reason, d.EvidenceLinks,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: dispute for deal %s: %w", d.DealID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create dispute %s: %w", d.ID, err)
	}
	return nil
}

// GetByDealID retrieves the dispute attached to a deal.
func (s *DisputeStore) GetByDealID(ctx context.Context, dealID string) (domain.Dispute, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+disputeCols+` FROM disputes WHERE deal_id = $1`, dealID)

	var d domain.Dispute
	err := row.Scan(&d.ID, &d.DealID, &d.Initiator, &d.Reason, &d.EvidenceLinks, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute for deal %s: %w", dealID, err)
	}
	return d, nil
}

// List returns dispute records, newest first.
func (s *DisputeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Dispute, error) {
	query := `SELECT ` + disputeCols + ` FROM disputes WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		var d domain.Dispute
		if err := rows.Scan(&d.ID, &d.DealID, &d.Initiator, &d.Reason, &d.EvidenceLinks, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list disputes rows: %w", err)
	}
	return disputes, nil
}
