package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// DealStore implements domain.DealStore using PostgreSQL. Milestones and
// their conditions are stored as a JSONB document on the deal row; the
// authoritative release state lives on chain, the stored copy is a cache.
type DealStore struct {
	pool *pgxpool.Pool
}

// NewDealStore creates a new DealStore backed by the given connection pool.
func NewDealStore(pool *pgxpool.Pool) *DealStore {
	return &DealStore{pool: pool}
}

const dealCols = `id, title, description, client, freelancer, arbiter,
	token, total_wei, milestones, chain_deal_id, status, created_at, updated_at`

// Create inserts a new deal row. The deal keeps its off-chain UUID forever;
// inserting the same id twice is ErrAlreadyExists.
func (s *DealStore) Create(ctx context.Context, d domain.Deal) error {
	milestonesJSON, err := json.Marshal(d.Milestones)
	if err != nil {
		return fmt.Errorf("postgres: marshal milestones for deal %s: %w", d.ID, err)
	}

	const query = `
		INSERT INTO deals (
			id, title, description, client, freelancer, arbiter,
			token, total_wei, milestones, chain_deal_id, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, NOW(), NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		d.ID, d.Title, d.Description, d.Client, d.Freelancer, d.Arbiter,
		d.Token, numericString(d.TotalWei), milestonesJSON, d.ChainDealID, string(d.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create deal %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create deal %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// scanDeal scans a single deal row into a domain.Deal.
func scanDeal(row pgx.Row) (domain.Deal, error) {
	var d domain.Deal
	var status, totalWei string
	var milestonesJSON []byte

	err := row.Scan(
		&d.ID, &d.Title, &d.Description, &d.Client, &d.Freelancer, &d.Arbiter,
		&d.Token, &totalWei, &milestonesJSON, &d.ChainDealID, &status,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Deal{}, err
	}

	d.Status = domain.DealStatus(status)
	total, ok := new(big.Int).SetString(totalWei, 10)
	if !ok {
		return domain.Deal{}, fmt.Errorf("postgres: deal %s: bad total_wei %q", d.ID, totalWei)
	}
	d.TotalWei = total

	if len(milestonesJSON) > 0 {
		if err := json.Unmarshal(milestonesJSON, &d.Milestones); err != nil {
			return domain.Deal{}, fmt.Errorf("postgres: deal %s: unmarshal milestones: %w", d.ID, err)
		}
	}
	return d, nil
}

// GetByID retrieves a deal by its off-chain UUID.
func (s *DealStore) GetByID(ctx context.Context, id string) (domain.Deal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dealCols+` FROM deals WHERE id = $1`, id)
	d, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deal{}, domain.ErrNotFound
		}
		return domain.Deal{}, fmt.Errorf("postgres: get deal %s: %w", id, err)
	}
	return d, nil
}

// GetByChainID retrieves a deal by its bound on-chain id.
func (s *DealStore) GetByChainID(ctx context.Context, chainDealID uint64) (domain.Deal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dealCols+` FROM deals WHERE chain_deal_id = $1`, chainDealID)
	d, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deal{}, domain.ErrNotFound
		}
		return domain.Deal{}, fmt.Errorf("postgres: get deal by chain id %d: %w", chainDealID, err)
	}
	return d, nil
}

// List returns deals, newest first, with pagination and optional filtering.
func (s *DealStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Deal, error) {
	return s.list(ctx, `SELECT `+dealCols+` FROM deals WHERE 1=1`, opts)
}

// ListBound returns deals that have an on-chain id and are not yet
// terminal; the reconcile sweeper walks this set.
func (s *DealStore) ListBound(ctx context.Context, opts domain.ListOpts) ([]domain.Deal, error) {
	const base = `SELECT ` + dealCols + ` FROM deals
		WHERE chain_deal_id IS NOT NULL AND status NOT IN ('completed', 'cancelled')`
	return s.list(ctx, base, opts)
}

func (s *DealStore) list(ctx context.Context, query string, opts domain.ListOpts) ([]domain.Deal, error) {
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
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
		return nil, fmt.Errorf("postgres: list deals: %w", err)
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deals rows: %w", err)
	}
	return deals, nil
}

// UpdateStatus writes the off-chain status cache. The write is idempotent:
// setting the status a row already has is a no-op success.
func (s *DealStore) UpdateStatus(ctx context.Context, id string, status domain.DealStatus) error {
	const query = `
		UPDATE deals
		SET status = $2,
		    updated_at = CASE WHEN status = $2 THEN updated_at ELSE NOW() END
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update deal %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update deal %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

// BindChainID assigns the on-chain deal id exactly once. Re-binding the
// same id is an idempotent success; binding a different id fails.
func (s *DealStore) BindChainID(ctx context.Context, id string, chainDealID uint64) error {
	const query = `
		UPDATE deals
		SET chain_deal_id = $2, updated_at = NOW()
		WHERE id = $1 AND (chain_deal_id IS NULL OR chain_deal_id = $2)`

	tag, err := s.pool.Exec(ctx, query, id, chainDealID)
	if err != nil {
		return fmt.Errorf("postgres: bind deal %s to chain id %d: %w", id, chainDealID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish "no such deal" from "bound to a different id".
	var existing *int64
	err = s.pool.QueryRow(ctx, `SELECT chain_deal_id FROM deals WHERE id = $1`, id).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: bind deal %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: bind deal %s: %w", id, err)
	}
	return fmt.Errorf("postgres: deal %s already bound to chain id %d: %w", id, *existing, domain.ErrAlreadyExists)
}

// SetMilestoneReleased flips the cached released flag for one milestone
// inside the JSONB document. Safe to reapply.
func (s *DealStore) SetMilestoneReleased(ctx context.Context, id string, index int) error {
	const query = `
		UPDATE deals
		SET milestones = jsonb_set(milestones, ARRAY[$2::text, 'released'], 'true'::jsonb),
		    updated_at = NOW()
		WHERE id = $1 AND jsonb_array_length(milestones) > $3`

	tag, err := s.pool.Exec(ctx, query, id, fmt.Sprintf("%d", index), index)
	if err != nil {
		return fmt.Errorf("postgres: mark deal %s milestone %d released: %w", id, index, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark deal %s milestone %d released: %w", id, index, domain.ErrNotFound)
	}
	return nil
}

// Count returns the total number of deals.
func (s *DealStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM deals").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count deals: %w", err)
	}
	return count, nil
}

// numericString renders a wei amount for a NUMERIC column.
func numericString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
