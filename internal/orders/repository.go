package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/ecohaat/internal/catalog"
	"github.com/joao-fontenele/ecohaat/internal/discount"
	"github.com/joao-fontenele/ecohaat/internal/domain"
)

const orderColumns = `
	id, order_number, buyer_id, subtotal, discount_amount, discount_code_id,
	delivery_charge, cod_charge, total, phone, payment_method, shipping_address,
	status, tracking_history, version, created_at, updated_at`

const itemColumns = `
	id, order_id, product_id, product_name, seller_id, quantity, price_at_purchase,
	seller_earning, item_status, COALESCE(denial_reason, ''), payment_received,
	payment_sent_to_seller, version, updated_at`

type OrderRepository struct {
	db       *sql.DB
	products *catalog.ProductRepository
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, products: catalog.NewProductRepository()}
}

func (r *OrderRepository) Products(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return r.products.GetMany(ctx, r.db, ids)
}

// Create writes the order, its lines, the stock reservations, the discount
// use and the cart cleanup in one transaction. The order number comes from a
// per-day counter row locked by the same transaction, so numbers are only
// consumed by orders that commit.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order, redemption *Redemption) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := nextSequence(ctx, tx, domain.PrefixOrder, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("next order sequence: %w", err)
	}
	order.OrderNumber = domain.DailyID(domain.PrefixOrder, order.CreatedAt, seq)

	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}
	history, err := json.Marshal(order.TrackingHistory)
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (order_number, buyer_id, subtotal, discount_amount, discount_code_id,
			delivery_charge, cod_charge, total, phone, payment_method, shipping_address,
			status, tracking_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id, version
	`, order.OrderNumber, order.BuyerID, order.Subtotal, order.DiscountAmount, order.DiscountCodeID,
		order.DeliveryCharge, order.CODCharge, order.Total, order.Phone, order.PaymentMethod,
		string(address), order.Status, string(history), order.CreatedAt,
	).Scan(&order.ID, &order.Version)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	productIDs := make([]int64, 0, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		if err := r.products.Reserve(ctx, tx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, catalog.ErrInsufficientStock) {
				return domain.NewValidationError("items", fmt.Sprintf("%s is out of stock", item.ProductName))
			}
			return fmt.Errorf("reserve stock: %w", err)
		}

		item.OrderID = order.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, seller_id, quantity,
				price_at_purchase, seller_earning, item_status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, version
		`, item.OrderID, item.ProductID, item.ProductName, item.SellerID, item.Quantity,
			item.PriceAtPurchase, item.SellerEarning, item.Status, order.CreatedAt,
		).Scan(&item.ID, &item.Version)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		productIDs = append(productIDs, item.ProductID)
	}

	if redemption != nil {
		if _, err := discount.ApplyTx(ctx, tx, redemption.CodeID, redemption.UserID, order.ID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)
	`, order.BuyerID, pq.Array(productIDs))
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	return tx.Commit()
}

func nextSequence(ctx context.Context, tx *sql.Tx, prefix string, day time.Time) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO daily_sequences (prefix, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day) DO UPDATE SET last_value = daily_sequences.last_value + 1
		RETURNING last_value
	`, prefix, day.Format("20060102")).Scan(&seq)
	return seq, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		order          domain.Order
		discountCodeID sql.NullInt64
		address        []byte
		history        []byte
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.BuyerID, &order.Subtotal, &order.DiscountAmount,
		&discountCodeID, &order.DeliveryCharge, &order.CODCharge, &order.Total, &order.Phone,
		&order.PaymentMethod, &address, &order.Status, &history, &order.Version,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if discountCodeID.Valid {
		order.DiscountCodeID = &discountCodeID.Int64
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(history, &order.TrackingHistory); err != nil {
		return nil, fmt.Errorf("decode tracking history: %w", err)
	}
	order.Status = order.Status.Normalize()
	order.Items = []domain.OrderItem{}

	return &order, nil
}

func scanItem(row scanner) (domain.OrderItem, error) {
	var item domain.OrderItem
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.SellerID,
		&item.Quantity, &item.PriceAtPurchase, &item.SellerEarning, &item.Status, &item.DenialReason,
		&item.PaymentReceived, &item.PaymentSentToSeller, &item.Version, &item.UpdatedAt)
	item.Status = item.Status.Normalize()
	return item, err
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByItemID(ctx context.Context, itemID int64) (*domain.Order, error) {
	return r.getOne(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE id = (SELECT order_id FROM order_items WHERE id = $1)
	`, itemID)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg int64) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.loadItems(ctx, map[int64]*domain.Order{order.ID: order}, []int64{order.ID}); err != nil {
		return nil, err
	}

	return order, nil
}

// loadItems fills Items of every order in one query.
func (r *OrderRepository) loadItems(ctx context.Context, byID map[int64]*domain.Order, ids []int64) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return err
		}
		order := byID[item.OrderID]
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.BuyerID != "" {
		args = append(args, filter.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		where = append(where, fmt.Sprintf("id IN (SELECT order_id FROM order_items WHERE seller_id = $%d)", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*domain.Order)
	var ids []int64
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		byID[order.ID] = order
		ids = append(ids, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadItems(ctx, byID, ids); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, *byID[id])
	}

	return orders, nil
}

// Commit applies a staged change under the order and item version guards.
// The tracking event is appended by the database, never rewritten from a
// client copy of the history.
func (r *OrderRepository) Commit(ctx context.Context, change *Change) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var event any
	if change.Event != nil {
		encoded, err := json.Marshal([]domain.TrackingEvent{*change.Event})
		if err != nil {
			return err
		}
		event = string(encoded)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
			tracking_history = CASE WHEN $4::jsonb IS NULL THEN tracking_history ELSE tracking_history || $4::jsonb END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, change.OrderID, change.OrderVersion, change.Status, event)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	for _, ic := range change.Items {
		result, err := tx.ExecContext(ctx, `
			UPDATE order_items
			SET item_status = $3,
				denial_reason = NULLIF($4, ''),
				payment_received = $5,
				payment_sent_to_seller = $6,
				version = version + 1,
				updated_at = NOW()
			WHERE id = $1 AND version = $2
		`, ic.ID, ic.Version, ic.Status, ic.DenialReason, ic.PaymentReceived, ic.PaymentSentToSeller)
		if err != nil {
			return fmt.Errorf("update order item %d: %w", ic.ID, err)
		}
		if err := expectOneRow(result); err != nil {
			return err
		}

		if ic.Restock {
			if err := r.products.Release(ctx, tx, ic.ProductID, ic.Quantity); err != nil {
				return fmt.Errorf("restock product %d: %w", ic.ProductID, err)
			}
		}
	}

	return tx.Commit()
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
