package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres-backed Store. Row locks (FOR UPDATE) give the
// per-product critical section; LockTimeout bounds how long a transaction
// waits for one before failing with contention.
type Repo struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

const productCols = `id, owner_id, name, price::text, quantity, description, image_ref, created_at, updated_at`
const orderCols = `id, buyer_id, seller_id, product_id, quantity, price::text, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (Product, error) {
	var p Product
	var price string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &price, &p.Quantity, &p.Description, &p.ImageRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return p, nil
}

func scanOrder(row scanner) (Order, error) {
	var o Order
	var price, status string
	if err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Quantity, &price, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Order{}, fmt.Errorf("order %s price %q: %w", o.ID, price, err)
	}
	o.Price = d
	o.Status = Status(status)
	return o, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY seq`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, p)
	}
	return out, classify(rows.Err())
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, Errorf(KindNotFound, "product not found: %s", id)
	}
	return p, classify(err)
}

func (r *Repo) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify(err)
		}
		out[p.ID] = p
	}
	return out, classify(rows.Err())
}

func (r *Repo) CreateProduct(ctx context.Context, n NewProduct) (Product, error) {
	if err := n.Validate(); err != nil {
		return Product{}, err
	}
	p, err := scanProduct(r.DB.QueryRow(ctx, `
		INSERT INTO products(id, owner_id, name, price, quantity, description, image_ref)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING `+productCols,
		uuid.NewString(), n.OwnerID, strings.TrimSpace(n.Name), n.Price.String(), n.Quantity, n.Description, n.ImageRef,
	))
	return p, classify(err)
}

func (r *Repo) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	if err := patch.Validate(); err != nil {
		return Product{}, err
	}
	var out Product
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := selectForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		next := patch.Apply(cur)
		out, err = scanProduct(tx.QueryRow(ctx, `
			UPDATE products
			SET name=$2, price=$3::numeric, quantity=$4, description=$5, image_ref=$6, updated_at=now()
			WHERE id=$1
			RETURNING `+productCols,
			id, next.Name, next.Price.String(), next.Quantity, next.Description, next.ImageRef,
		))
		return err
	})
	return out, err
}

func (r *Repo) AdjustQuantity(ctx context.Context, id string, delta int) (Product, error) {
	var out Product
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := selectForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := adjusted(cur.Quantity, delta); err != nil {
			return err
		}
		out, err = scanProduct(tx.QueryRow(ctx, `
			UPDATE products SET quantity = quantity + $2, updated_at = now()
			WHERE id=$1
			RETURNING `+productCols, id, delta))
		return err
	})
	return out, err
}

func (r *Repo) AppendOrder(ctx context.Context, o Order) (Order, error) {
	if err := validateOrder(o); err != nil {
		return Order{}, err
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	return insertOrder(ctx, r.DB, o, uuid.NewString())
}

func (r *Repo) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	var conds []string
	var args []any
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		conds = append(conds, fmt.Sprintf("buyer_id=$%d", len(args)))
	}
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		conds = append(conds, fmt.Sprintf("seller_id=$%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("(buyer_id=$%d OR seller_id=$%d)", len(args), len(args)))
	}
	q := `SELECT ` + orderCols + ` FROM orders`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY seq DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, o)
	}
	return out, classify(rows.Err())
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, Errorf(KindNotFound, "order not found: %s", id)
	}
	return o, classify(err)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertOrder(ctx context.Context, q querier, o Order, id string) (Order, error) {
	out, err := scanOrder(q.QueryRow(ctx, `
		INSERT INTO orders(id, buyer_id, seller_id, product_id, quantity, price, status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		RETURNING `+orderCols,
		id, o.BuyerID, o.SellerID, o.ProductID, o.Quantity, o.Price.String(), string(o.Status),
	))
	return out, classify(err)
}

// withTx runs fn in a transaction with a bounded lock wait.
func (r *Repo) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.LockTimeout > 0 {
		ms := fmt.Sprintf("%dms", r.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return classify(err)
		}
	}
	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// classify maps driver errors onto the error taxonomy. Errors that already
// carry a Kind pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return wrap(KindContention, "resource busy, retry later", err)
		case "23514": // check_violation
			return wrap(KindValidation, "constraint violated: "+pgErr.ConstraintName, err)
		case "22003": // numeric_value_out_of_range
			return wrap(KindValidation, "value out of range", err)
		}
	}
	return fmt.Errorf("postgres: %w", err)
}

var _ Store = (*Repo)(nil)
