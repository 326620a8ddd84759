package orders

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is the in-process Store used with STORE_DRIVER=memory and in tests.
//
// Every write to a product (reserve, adjust, update, cancel) runs under that
// product's semaphore. The paired product write and order append are then
// applied under mu, so readers holding the read lock see both or neither.
type MemoryRepo struct {
	mu       sync.RWMutex
	products map[string]Product
	seq      []string // product ids, insertion order
	orders   []Order  // append order; listed newest first
	orderIdx map[string]int

	locks *keyedLocker
	now   func() time.Time
	newID func() string
}

type MemoryOptions struct {
	LockAttempts    int
	LockAttemptWait time.Duration
}

func NewMemoryRepo(opts MemoryOptions) *MemoryRepo {
	return &MemoryRepo{
		products: map[string]Product{},
		orderIdx: map[string]int{},
		locks:    newKeyedLocker(opts.LockAttempts, opts.LockAttemptWait),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (m *MemoryRepo) ListProducts(ctx context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Product, 0, len(m.seq))
	for _, id := range m.seq {
		out = append(out, m.products[id])
	}
	return out, nil
}

func (m *MemoryRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return Product{}, Errorf(KindNotFound, "product not found: %s", id)
	}
	return p, nil
}

func (m *MemoryRepo) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *MemoryRepo) CreateProduct(ctx context.Context, n NewProduct) (Product, error) {
	if err := n.Validate(); err != nil {
		return Product{}, err
	}
	now := m.now()
	p := Product{
		ID:          m.newID(),
		OwnerID:     n.OwnerID,
		Name:        strings.TrimSpace(n.Name),
		Price:       n.Price,
		Quantity:    n.Quantity,
		Description: n.Description,
		ImageRef:    n.ImageRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	m.seq = append(m.seq, p.ID)
	return p, nil
}

func (m *MemoryRepo) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	if err := patch.Validate(); err != nil {
		return Product{}, err
	}
	unlock, err := m.lockProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	p := patch.Apply(m.products[id])
	p.UpdatedAt = m.now()
	m.products[id] = p
	return p, nil
}

func (m *MemoryRepo) AdjustQuantity(ctx context.Context, id string, delta int) (Product, error) {
	unlock, err := m.lockProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	next, err := adjusted(p.Quantity, delta)
	if err != nil {
		return Product{}, err
	}
	p.Quantity = next
	p.UpdatedAt = m.now()
	m.products[id] = p
	return p, nil
}

func (m *MemoryRepo) AppendOrder(ctx context.Context, o Order) (Order, error) {
	if err := validateOrder(o); err != nil {
		return Order{}, err
	}
	now := m.now()
	o.ID = m.newID()
	o.CreatedAt, o.UpdatedAt = now, now
	if o.Status == "" {
		o.Status = StatusPending
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(o)
	return o, nil
}

func (m *MemoryRepo) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if f.Match(m.orders[i]) {
			out = append(out, m.orders[i])
		}
	}
	return out, nil
}

func (m *MemoryRepo) GetOrder(ctx context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.orderIdx[id]
	if !ok {
		return Order{}, Errorf(KindNotFound, "order not found: %s", id)
	}
	return m.orders[i], nil
}

func (m *MemoryRepo) Reserve(ctx context.Context, r Reservation) (Order, Product, error) {
	unlock, err := m.lockProduct(ctx, r.ProductID)
	if err != nil {
		return Order{}, Product{}, err
	}
	defer unlock()

	// Product writes for this id are excluded by the semaphore, so the value
	// read here stays current until the commit below.
	m.mu.RLock()
	p := m.products[r.ProductID]
	m.mu.RUnlock()

	if err := r.check(p); err != nil {
		return Order{}, Product{}, err
	}

	now := m.now()
	o := r.newOrder(p, m.newID(), now)
	p.Quantity -= r.Quantity
	p.UpdatedAt = now

	m.mu.Lock()
	m.products[p.ID] = p
	m.appendLocked(o)
	m.mu.Unlock()
	return o, p, nil
}

func (m *MemoryRepo) Transition(ctx context.Context, orderID string, to Status) (Order, Product, error) {
	o, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, Product{}, err
	}
	unlock, err := m.lockProduct(ctx, o.ProductID)
	if err != nil {
		return Order{}, Product{}, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.orderIdx[orderID]
	o = m.orders[i]
	if !CanTransition(o.Status, to) {
		return Order{}, Product{}, Errorf(KindValidation, "cannot move order from %s to %s", o.Status, to)
	}
	now := m.now()
	p := m.products[o.ProductID]
	if to == StatusCancelled {
		next, err := adjusted(p.Quantity, o.Quantity)
		if err != nil {
			return Order{}, Product{}, err
		}
		p.Quantity = next
		p.UpdatedAt = now
		m.products[p.ID] = p
	}
	o.Status = to
	o.UpdatedAt = now
	m.orders[i] = o
	return o, p, nil
}

// lockProduct rejects unknown ids before taking a semaphore so junk ids do
// not accumulate lock entries. Products are never deleted, so the id stays
// valid once the lock is held.
func (m *MemoryRepo) lockProduct(ctx context.Context, id string) (func(), error) {
	m.mu.RLock()
	_, ok := m.products[id]
	m.mu.RUnlock()
	if !ok {
		return nil, Errorf(KindNotFound, "product not found: %s", id)
	}
	return m.locks.lock(ctx, id)
}

func (m *MemoryRepo) appendLocked(o Order) {
	m.orderIdx[o.ID] = len(m.orders)
	m.orders = append(m.orders, o)
}

var _ Store = (*MemoryRepo)(nil)
