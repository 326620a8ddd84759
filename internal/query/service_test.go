package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*Service, *orders.MemoryRepo, *redisx.Memory) {
	store := orders.NewMemoryRepo(orders.MemoryOptions{LockAttempts: 10, LockAttemptWait: 10 * time.Millisecond})
	kv := redisx.NewMemory()
	return &Service{Store: store, KV: kv}, store, kv
}

func create(t *testing.T, store *orders.MemoryRepo, owner, name string) orders.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), orders.NewProduct{
		OwnerID: owner, Name: name, Price: decimal.RequireFromString("1.25"), Quantity: 10,
	})
	require.NoError(t, err)
	return p
}

func TestListProductsCachedPerGeneration(t *testing.T) {
	svc, store, kv := newService()
	ctx := context.Background()
	create(t, store, "1", "A")

	first, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	ok, err := kv.Exists(ctx, "catalog:products:g0")
	require.NoError(t, err)
	assert.True(t, ok)

	// tulis tanpa bump generasi -> masih dari cache
	create(t, store, "1", "B")
	cached, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	_, err = kv.Incr(ctx, redisx.KeyCatalogGeneration)
	require.NoError(t, err)
	fresh, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "A", fresh[0].Name)
	assert.Equal(t, "B", fresh[1].Name)
	assert.True(t, fresh[0].Price.Equal(decimal.RequireFromString("1.25")))
}

func TestListProductsWithoutCache(t *testing.T) {
	_, store, _ := newService()
	svc := &Service{Store: store}
	create(t, store, "1", "A")

	ps, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestListOrdersForJoinsProducts(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()
	p := create(t, store, "seller", "Lamp")

	o1, _, err := store.Reserve(ctx, orders.Reservation{BuyerID: "buyer", ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	orphan, err := store.AppendOrder(ctx, orders.Order{
		BuyerID: "buyer", SellerID: "other", ProductID: "gone", Quantity: 1, Price: decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	views, err := svc.ListOrdersFor(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, orphan.ID, views[0].ID)
	assert.Nil(t, views[0].Product)
	assert.Equal(t, o1.ID, views[1].ID)
	require.NotNil(t, views[1].Product)
	assert.Equal(t, "Lamp", views[1].Product.Name)

	sellerViews, err := svc.ListOrdersFor(ctx, "seller")
	require.NoError(t, err)
	assert.Len(t, sellerViews, 1)

	none, err := svc.ListOrdersFor(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)

	b, err := json.Marshal(views[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"product":null`)
	assert.Contains(t, string(b), `"buyer_id":"buyer"`)
}

func TestGetOrder(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()
	p := create(t, store, "seller", "Lamp")
	o, _, err := store.Reserve(ctx, orders.Reservation{BuyerID: "buyer", ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	v, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Quantity)
	require.NotNil(t, v.Product)
	assert.Equal(t, p.ID, v.Product.ID)

	_, err = svc.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestSellerStats(t *testing.T) {
	svc, _, kv := newService()
	ctx := context.Background()

	st, err := svc.SellerStats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Orders)
	assert.True(t, st.Revenue.IsZero())

	require.NoError(t, kv.HIncrBy(ctx, "stats:seller:s1", map[string]int64{"orders": 2, "units": 5, "revenue_cents": 1250}))
	st, err = svc.SellerStats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Orders)
	assert.Equal(t, int64(5), st.Units)
	assert.Equal(t, "12.5", st.Revenue.String())
}
