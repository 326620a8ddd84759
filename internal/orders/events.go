package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventProductChanged     = "ProductChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "marketplace-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id atau product_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderPlacedPayload struct {
	OrderID           string          `json:"order_id"`
	BuyerID           string          `json:"buyer_id"`
	SellerID          string          `json:"seller_id"`
	ProductID         string          `json:"product_id"`
	Quantity          int             `json:"quantity"`
	Price             decimal.Decimal `json:"price"`
	RemainingQuantity int             `json:"remaining_quantity"`
}

type OrderStatusChangedPayload struct {
	OrderID   string          `json:"order_id"`
	SellerID  string          `json:"seller_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	From      Status          `json:"from"`
	To        Status          `json:"to"`
}

type ProductChangedPayload struct {
	ProductID string `json:"product_id"`
	OwnerID   string `json:"owner_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"` // created | updated | restocked | released
}

func OrderPlacedFrom(o Order, remaining int) OrderPlacedPayload {
	return OrderPlacedPayload{
		OrderID:           o.ID,
		BuyerID:           o.BuyerID,
		SellerID:          o.SellerID,
		ProductID:         o.ProductID,
		Quantity:          o.Quantity,
		Price:             o.Price,
		RemainingQuantity: remaining,
	}
}
