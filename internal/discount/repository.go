package discount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

// DBTX lets ApplyTx join a transaction opened by the caller.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var ErrDuplicateCode = fmt.Errorf("discount code already exists: %w", domain.ErrConflict)

const codeColumns = `
	id, code, COALESCE(description, ''), discount_type, discount_value, max_discount,
	min_order_amount, max_uses, uses_count, per_user_limit, valid_from, valid_until,
	is_active, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCode(row scanner) (*domain.DiscountCode, error) {
	var (
		dc                    domain.DiscountCode
		maxDiscount           sql.NullInt64
		maxUses, perUserLimit sql.NullInt32
		validFrom, validUntil sql.NullTime
	)
	err := row.Scan(&dc.ID, &dc.Code, &dc.Description, &dc.Type, &dc.Value, &maxDiscount,
		&dc.MinOrderAmount, &maxUses, &dc.UsesCount, &perUserLimit, &validFrom, &validUntil,
		&dc.IsActive, &dc.CreatedAt, &dc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if maxDiscount.Valid {
		dc.MaxDiscount = &maxDiscount.Int64
	}
	if maxUses.Valid {
		n := int(maxUses.Int32)
		dc.MaxUses = &n
	}
	if perUserLimit.Valid {
		n := int(perUserLimit.Int32)
		dc.PerUserLimit = &n
	}
	if validFrom.Valid {
		dc.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		dc.ValidUntil = &validUntil.Time
	}

	return &dc, nil
}

func (r *Repository) GetByCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	dc, err := scanCode(r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM discount_codes WHERE UPPER(code) = UPPER($1)`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return dc, err
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.DiscountCode, error) {
	dc, err := scanCode(r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM discount_codes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return dc, err
}

func (r *Repository) List(ctx context.Context) ([]domain.DiscountCode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+codeColumns+` FROM discount_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	codes := []domain.DiscountCode{}
	for rows.Next() {
		dc, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *dc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return codes, nil
}

func (r *Repository) Create(ctx context.Context, dc *domain.DiscountCode) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO discount_codes (code, description, discount_type, discount_value, max_discount,
			min_order_amount, max_uses, per_user_limit, valid_from, valid_until, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, uses_count, created_at, updated_at
	`, dc.Code, dc.Description, dc.Type, dc.Value, dc.MaxDiscount, dc.MinOrderAmount,
		nullableInt(dc.MaxUses), nullableInt(dc.PerUserLimit), dc.ValidFrom, dc.ValidUntil, dc.IsActive,
	).Scan(&dc.ID, &dc.UsesCount, &dc.CreatedAt, &dc.UpdatedAt)
	return mapUniqueViolation(err)
}

// Update overwrites the editable fields; it returns false when the code does
// not exist. uses_count is never written here.
func (r *Repository) Update(ctx context.Context, dc *domain.DiscountCode) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		UPDATE discount_codes SET
			code = $2, description = $3, discount_type = $4, discount_value = $5, max_discount = $6,
			min_order_amount = $7, max_uses = $8, per_user_limit = $9, valid_from = $10,
			valid_until = $11, is_active = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING uses_count, created_at, updated_at
	`, dc.ID, dc.Code, dc.Description, dc.Type, dc.Value, dc.MaxDiscount, dc.MinOrderAmount,
		nullableInt(dc.MaxUses), nullableInt(dc.PerUserLimit), dc.ValidFrom, dc.ValidUntil, dc.IsActive,
	).Scan(&dc.UsesCount, &dc.CreatedAt, &dc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapUniqueViolation(err)
	}
	return true, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM discount_codes WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *Repository) CountUses(ctx context.Context, codeID int64, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM discount_code_uses
		WHERE discount_code_id = $1 AND user_id = $2
	`, codeID, userID).Scan(&n)
	return n, err
}

// OrderBuyer returns the buyer of an order, or "" when there is no such order.
func (r *Repository) OrderBuyer(ctx context.Context, orderID int64) (string, error) {
	var buyerID string
	err := r.db.QueryRowContext(ctx, `SELECT buyer_id FROM orders WHERE id = $1`, orderID).Scan(&buyerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return buyerID, err
}

// Apply records a use in its own transaction. See ApplyTx.
func (r *Repository) Apply(ctx context.Context, codeID int64, userID string, orderID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := ApplyTx(ctx, tx, codeID, userID, orderID)
	if err != nil {
		return false, err
	}

	return applied, tx.Commit()
}

// ApplyTx inserts the ledger row and bumps uses_count. A second call for the
// same code and order is a no-op reported as false. When the code has run
// out of uses a *RuleError is returned and the caller must roll back.
func ApplyTx(ctx context.Context, q DBTX, codeID int64, userID string, orderID int64) (bool, error) {
	var useID int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO discount_code_uses (discount_code_id, user_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (discount_code_id, order_id) DO NOTHING
		RETURNING id
	`, codeID, userID, orderID).Scan(&useID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert discount use: %w", mapForeignKeyViolation(err))
	}

	result, err := q.ExecContext(ctx, `
		UPDATE discount_codes
		SET uses_count = uses_count + 1, updated_at = NOW()
		WHERE id = $1 AND (max_uses IS NULL OR uses_count < max_uses)
	`, codeID)
	if err != nil {
		return false, fmt.Errorf("increment discount uses: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, newRuleError(CodeUsageLimitReached)
	}

	return true, nil
}

func nullableInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

// mapForeignKeyViolation turns a reference to a missing code or order into
// domain.ErrNotFound.
func mapForeignKeyViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("%s: %w", pqErr.Constraint, domain.ErrNotFound)
	}
	return err
}
