// Package inventory owns every write that touches stock: order placement,
// product create/update, restock and order status changes. The atomic part
// lives in orders.Reserver; this layer adds idempotency, cache invalidation,
// events and metrics around it.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/ariefcatur/go-marketplace/internal/storage"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Service struct {
	Store       orders.Store
	KV          redisx.KV
	Producer    kafkax.Publisher // nil -> event dibuang
	Images      storage.Disk     // nil -> upload ditolak
	ServiceName string
}

type PlaceOrderRequest struct {
	BuyerID   string
	ProductID string
	Quantity  int
	// SellerID is optional; when given it must match the product owner.
	SellerID string
}

// Image is an uploaded file waiting to be stored.
type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// PlaceOrder claims stock for one buyer. Checks and writes happen inside the
// product's critical section; publishing and cache invalidation follow the
// commit and never undo it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (orders.Order, error) {
	start := time.Now()
	o, p, err := s.Store.Reserve(ctx, orders.Reservation{
		BuyerID:   req.BuyerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		SellerID:  req.SellerID,
	})
	metrics.ReservationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Reservations.WithLabelValues(string(orders.KindOf(err))).Inc()
		return orders.Order{}, err
	}
	metrics.Reservations.WithLabelValues("ok").Inc()
	metrics.UnitsReserved.Add(float64(o.Quantity))

	logx.FromContext(ctx).Info("order placed",
		"order_id", o.ID, "product_id", o.ProductID, "buyer_id", o.BuyerID,
		"quantity", o.Quantity, "remaining", p.Quantity)

	s.touchCatalog(ctx)
	s.publish(ctx, orders.TopicOrderPlaced, orders.EventOrderPlaced, o.ID, orders.OrderPlacedFrom(o, p.Quantity))
	return o, nil
}

// PlaceOrderIdempotent is PlaceOrder guarded by a client key. A repeat of a
// completed request returns the original order with replayed=true; a repeat
// that arrives while the first is still running fails with contention.
func (s *Service) PlaceOrderIdempotent(ctx context.Context, key string, req PlaceOrderRequest) (o orders.Order, replayed bool, err error) {
	if key == "" || s.KV == nil {
		o, err = s.PlaceOrder(ctx, req)
		return o, false, err
	}
	ikey := fmt.Sprintf(redisx.KeyIdemOrderPlace, key)

	claimed, err := s.KV.SetNX(ctx, ikey, redisx.IdemPending, redisx.TTLIdemPending)
	if err != nil {
		return orders.Order{}, false, fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		return s.replay(ctx, ikey, req)
	}

	o, err = s.PlaceOrder(ctx, req)
	if err != nil {
		// gagal -> lepas key supaya client boleh coba lagi
		if derr := s.KV.Del(context.WithoutCancel(ctx), ikey); derr != nil {
			logx.FromContext(ctx).Warn("release idempotency key", "key", key, "err", derr)
		}
		return orders.Order{}, false, err
	}
	if serr := s.KV.Set(context.WithoutCancel(ctx), ikey, o.ID, redisx.TTLIdempotency); serr != nil {
		logx.FromContext(ctx).Warn("store idempotency result", "key", key, "order_id", o.ID, "err", serr)
	}
	return o, false, nil
}

func (s *Service) replay(ctx context.Context, ikey string, req PlaceOrderRequest) (orders.Order, bool, error) {
	v, err := s.KV.Get(ctx, ikey)
	if errors.Is(err, redisx.ErrMiss) {
		// key baru saja dilepas oleh request yg gagal
		return orders.Order{}, false, orders.Errorf(orders.KindContention, "request with this idempotency key was just released, retry")
	}
	if err != nil {
		return orders.Order{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if v == redisx.IdemPending {
		return orders.Order{}, false, orders.Errorf(orders.KindContention, "request with this idempotency key is still in progress")
	}
	o, err := s.Store.GetOrder(ctx, v)
	if err != nil {
		return orders.Order{}, false, err
	}
	if o.BuyerID != req.BuyerID || o.ProductID != req.ProductID || o.Quantity != req.Quantity {
		return orders.Order{}, false, orders.Errorf(orders.KindValidation, "idempotency key reused with a different request")
	}
	return o, true, nil
}

func (s *Service) CreateProduct(ctx context.Context, n orders.NewProduct, img *Image) (orders.Product, error) {
	if err := n.Validate(); err != nil {
		return orders.Product{}, err
	}
	ref, err := s.storeImage(ctx, img)
	if err != nil {
		return orders.Product{}, err
	}
	if ref != nil {
		n.ImageRef = ref
	}

	p, err := s.Store.CreateProduct(ctx, n)
	if err != nil {
		s.dropImage(ctx, ref)
		return orders.Product{}, err
	}
	s.touchCatalog(ctx)
	s.publishProduct(ctx, p, "created")
	return p, nil
}

// UpdateProduct applies patch; a new image replaces the old one, which is
// deleted from storage once the update has committed.
func (s *Service) UpdateProduct(ctx context.Context, id string, patch orders.ProductPatch, img *Image) (orders.Product, error) {
	if err := patch.Validate(); err != nil {
		return orders.Product{}, err
	}
	prev, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return orders.Product{}, err
	}
	ref, err := s.storeImage(ctx, img)
	if err != nil {
		return orders.Product{}, err
	}
	if ref != nil {
		patch.ImageRef = ref
	}

	p, err := s.Store.UpdateProduct(ctx, id, patch)
	if err != nil {
		s.dropImage(ctx, ref)
		return orders.Product{}, err
	}
	if patch.ImageRef != nil && prev.ImageRef != nil && *prev.ImageRef != *patch.ImageRef {
		s.dropImage(ctx, prev.ImageRef)
	}
	s.touchCatalog(ctx)
	s.publishProduct(ctx, p, "updated")
	return p, nil
}

// Restock adds delta units (negative removes) to a product.
func (s *Service) Restock(ctx context.Context, productID string, delta int) (orders.Product, error) {
	if delta == 0 {
		return orders.Product{}, orders.Errorf(orders.KindValidation, "delta must not be 0")
	}
	p, err := s.Store.AdjustQuantity(ctx, productID, delta)
	if err != nil {
		return orders.Product{}, err
	}
	logx.FromContext(ctx).Info("product restocked", "product_id", p.ID, "delta", delta, "quantity", p.Quantity)
	s.touchCatalog(ctx)
	s.publishProduct(ctx, p, "restocked")
	return p, nil
}

// TransitionOrder moves a pending order to Completed or Cancelled.
// Cancelling hands the reserved units back to the product.
func (s *Service) TransitionOrder(ctx context.Context, orderID string, to orders.Status) (orders.Order, error) {
	if to != orders.StatusCompleted && to != orders.StatusCancelled {
		return orders.Order{}, orders.Errorf(orders.KindValidation, "cannot move order to %q", to)
	}
	o, p, err := s.Store.Transition(ctx, orderID, to)
	if err != nil {
		return orders.Order{}, err
	}
	logx.FromContext(ctx).Info("order status changed", "order_id", o.ID, "status", o.Status)

	s.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:   o.ID,
		SellerID:  o.SellerID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
		Price:     o.Price,
		From:      orders.StatusPending, // satu-satunya status asal yang valid
		To:        o.Status,
	})
	if to == orders.StatusCancelled {
		s.touchCatalog(ctx)
		s.publishProduct(ctx, p, "released")
	}
	return o, nil
}

// touchCatalog bumps the cache generation so the next listing misses.
func (s *Service) touchCatalog(ctx context.Context) {
	if s.KV == nil {
		return
	}
	if _, err := s.KV.Incr(context.WithoutCancel(ctx), redisx.KeyCatalogGeneration); err != nil {
		logx.FromContext(ctx).Warn("bump catalog generation", "err", err)
	}
}

func (s *Service) publishProduct(ctx context.Context, p orders.Product, reason string) {
	s.publish(ctx, orders.TopicProductChanged, orders.EventProductChanged, p.ID, orders.ProductChangedPayload{
		ProductID: p.ID,
		OwnerID:   p.OwnerID,
		Quantity:  p.Quantity,
		Reason:    reason,
	})
}

func (s *Service) publish(ctx context.Context, topic, eventType, correlationID string, payload any) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(topic, orders.PartitionKey(correlationID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType)...)
}

func (s *Service) storeImage(ctx context.Context, img *Image) (*string, error) {
	if img == nil || img.Body == nil {
		return nil, nil
	}
	if s.Images == nil {
		return nil, orders.Errorf(orders.KindValidation, "image uploads are not enabled")
	}
	ref, err := s.Images.Put(ctx, storage.ObjectName(img.Filename), img.Body, img.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	return &ref, nil
}

func (s *Service) dropImage(ctx context.Context, ref *string) {
	if ref == nil || s.Images == nil {
		return
	}
	if err := s.Images.Delete(context.WithoutCancel(ctx), *ref); err != nil {
		logx.FromContext(ctx).Warn("delete image", "ref", *ref, "err", err)
	}
}
