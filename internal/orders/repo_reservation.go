package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// selectForUpdate: SELECT ... FOR UPDATE, kunci baris produk sampai commit/rollback.
func selectForUpdate(ctx context.Context, tx pgx.Tx, id string) (Product, error) {
	p, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, Errorf(KindNotFound, "product not found: %s", id)
	}
	return p, err
}

// Reserve: lock stok produk (FOR UPDATE) -> validasi -> kurangi -> catat order.
// Kalau salah satu langkah gagal, tidak ada perubahan yg di-commit.
func (r *Repo) Reserve(ctx context.Context, res Reservation) (Order, Product, error) {
	var o Order
	var p Product
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = selectForUpdate(ctx, tx, res.ProductID)
		if err != nil {
			return err
		}
		if err := res.check(p); err != nil {
			return err
		}

		ct, err := tx.Exec(ctx, `
			UPDATE products SET quantity = quantity - $2, updated_at = now()
			WHERE id=$1 AND quantity >= $2`, p.ID, res.Quantity)
		if err != nil {
			return err
		}
		// baris sudah dikunci, jadi ini hanya jaga-jaga
		if ct.RowsAffected() != 1 {
			return Errorf(KindInsufficientStock, "not enough quantity available for %s", p.ID)
		}
		p.Quantity -= res.Quantity

		o, err = insertOrder(ctx, tx, res.newOrder(p, "", p.UpdatedAt), uuid.NewString())
		return err
	})
	if err != nil {
		return Order{}, Product{}, err
	}
	p.UpdatedAt = o.CreatedAt
	return o, p, nil
}

// Transition: lock order, lalu produk; kalau dibatalkan stok dikembalikan
// dalam transaksi yang sama.
func (r *Repo) Transition(ctx context.Context, orderID string, to Status) (Order, Product, error) {
	var o Order
	var p Product
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return Errorf(KindNotFound, "order not found: %s", orderID)
		}
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, to) {
			return Errorf(KindValidation, "cannot move order from %s to %s", cur.Status, to)
		}

		p, err = selectForUpdate(ctx, tx, cur.ProductID)
		if err != nil {
			return err
		}
		if to == StatusCancelled {
			p, err = scanProduct(tx.QueryRow(ctx, `
				UPDATE products SET quantity = quantity + $2, updated_at = now()
				WHERE id=$1
				RETURNING `+productCols, p.ID, cur.Quantity))
			if err != nil {
				return err
			}
		}

		o, err = scanOrder(tx.QueryRow(ctx, `
			UPDATE orders SET status=$2, updated_at=now()
			WHERE id=$1
			RETURNING `+orderCols, orderID, string(to)))
		return err
	})
	if err != nil {
		return Order{}, Product{}, err
	}
	return o, p, nil
}
