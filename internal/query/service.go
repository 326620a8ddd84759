// Package query serves read models: product listings (cached per catalog
// generation), orders joined with a product summary, and seller stats.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/shopspring/decimal"
)

type Service struct {
	Store orders.Store
	KV    redisx.KV // nil -> tanpa cache
}

// ProductSummary is the product part of an order view.
type ProductSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ImageRef    *string `json:"image_ref"`
}

// OrderView is an order with its product; Product is nil when the product
// no longer exists.
type OrderView struct {
	orders.Order
	Product *ProductSummary `json:"product"`
}

type SellerStats struct {
	SellerID string          `json:"seller_id"`
	Orders   int64           `json:"orders"`
	Units    int64           `json:"units"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// ListProducts returns every listing in insertion order. Results are cached
// under the current catalog generation; writers bump the generation after
// commit, so a cached list never outlives the write that changed it.
func (s *Service) ListProducts(ctx context.Context) ([]orders.Product, error) {
	if s.KV == nil {
		return s.Store.ListProducts(ctx)
	}
	log := logx.FromContext(ctx)

	gen, err := s.generation(ctx)
	if err != nil {
		log.Warn("catalog generation", "err", err)
		return s.Store.ListProducts(ctx)
	}
	key := fmt.Sprintf(redisx.KeyCatalogProducts, gen)

	if raw, err := s.KV.Get(ctx, key); err == nil {
		var ps []orders.Product
		if err := json.Unmarshal([]byte(raw), &ps); err == nil {
			return ps, nil
		}
		log.Warn("corrupt catalog cache entry", "key", key)
	} else if !errors.Is(err, redisx.ErrMiss) {
		log.Warn("catalog cache read", "key", key, "err", err)
	}

	ps, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(ps); err == nil {
		if err := s.KV.Set(ctx, key, string(b), redisx.TTLCatalog); err != nil {
			log.Warn("catalog cache write", "key", key, "err", err)
		}
	}
	return ps, nil
}

func (s *Service) generation(ctx context.Context) (int64, error) {
	raw, err := s.KV.Get(ctx, redisx.KeyCatalogGeneration)
	if errors.Is(err, redisx.ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *Service) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	return s.Store.GetProduct(ctx, id)
}

// ListOrdersFor returns orders where userID is buyer or seller, newest
// first. An empty userID lists everything.
func (s *Service) ListOrdersFor(ctx context.Context, userID string) ([]OrderView, error) {
	list, err := s.Store.ListOrders(ctx, orders.OrderFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	return s.join(ctx, list)
}

func (s *Service) GetOrder(ctx context.Context, id string) (OrderView, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	vs, err := s.join(ctx, []orders.Order{o})
	if err != nil {
		return OrderView{}, err
	}
	return vs[0], nil
}

func (s *Service) join(ctx context.Context, list []orders.Order) ([]OrderView, error) {
	seen := make(map[string]struct{}, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		if _, ok := seen[o.ProductID]; !ok {
			seen[o.ProductID] = struct{}{}
			ids = append(ids, o.ProductID)
		}
	}
	products, err := s.Store.ProductsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]OrderView, 0, len(list))
	for _, o := range list {
		v := OrderView{Order: o}
		if p, ok := products[o.ProductID]; ok {
			v.Product = &ProductSummary{ID: p.ID, Name: p.Name, Description: p.Description, ImageRef: p.ImageRef}
		}
		out = append(out, v)
	}
	return out, nil
}

// SellerStats reads the counters maintained by the projector. A seller with
// no sales yet gets zeros.
func (s *Service) SellerStats(ctx context.Context, sellerID string) (SellerStats, error) {
	st := SellerStats{SellerID: sellerID, Revenue: decimal.Zero}
	if s.KV == nil {
		return st, nil
	}
	h, err := s.KV.HGetAll(ctx, fmt.Sprintf(redisx.KeySellerStats, sellerID))
	if err != nil {
		return SellerStats{}, fmt.Errorf("seller stats: %w", err)
	}
	st.Orders, _ = strconv.ParseInt(h["orders"], 10, 64)
	st.Units, _ = strconv.ParseInt(h["units"], 10, 64)
	cents, _ := strconv.ParseInt(h["revenue_cents"], 10, 64)
	st.Revenue = decimal.New(cents, -2)
	return st, nil
}
