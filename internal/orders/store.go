package orders

import "context"

// Catalog holds product listings.
type Catalog interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)
	CreateProduct(ctx context.Context, n NewProduct) (Product, error)
	UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, error)
	// AdjustQuantity applies quantity += delta atomically for one product.
	AdjustQuantity(ctx context.Context, id string, delta int) (Product, error)
}

// Ledger holds orders. Listings are newest first.
type Ledger interface {
	AppendOrder(ctx context.Context, o Order) (Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
}

// Reserver performs the multi-entity writes that must be atomic per product.
type Reserver interface {
	// Reserve validates r against the locked product, decrements its stock and
	// appends a pending order. Both effects commit together or not at all.
	Reserve(ctx context.Context, r Reservation) (Order, Product, error)
	// Transition moves an order to a new status. Cancelling returns the
	// order quantity to the product in the same critical section.
	Transition(ctx context.Context, orderID string, to Status) (Order, Product, error)
}

type Store interface {
	Catalog
	Ledger
	Reserver
}
