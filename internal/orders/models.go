package orders

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// frontend lama membaca price sebagai number, bukan string
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Description string          `json:"description"`
	ImageRef    *string         `json:"image_ref"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Order struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // harga satuan saat order dibuat
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total is the snapshotted unit price times quantity.
func (o Order) Total() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// NewProduct carries the seller-supplied fields of a listing.
type NewProduct struct {
	OwnerID     string
	Name        string
	Price       decimal.Decimal
	Quantity    int
	Description string
	ImageRef    *string
}

func (n NewProduct) Validate() error {
	if strings.TrimSpace(n.OwnerID) == "" {
		return Errorf(KindValidation, "owner_id is required")
	}
	if err := validateName(n.Name); err != nil {
		return err
	}
	if err := validatePrice(n.Price); err != nil {
		return err
	}
	return validateQuantity(n.Quantity)
}

// ProductPatch is a partial update; nil fields are left untouched.
type ProductPatch struct {
	Name        *string
	Price       *decimal.Decimal
	Quantity    *int
	Description *string
	ImageRef    *string
}

func (p ProductPatch) Validate() error {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Price != nil {
		if err := validatePrice(*p.Price); err != nil {
			return err
		}
	}
	if p.Quantity != nil {
		if err := validateQuantity(*p.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Apply returns a copy of prod with the patch applied.
func (p ProductPatch) Apply(prod Product) Product {
	if p.Name != nil {
		prod.Name = strings.TrimSpace(*p.Name)
	}
	if p.Price != nil {
		prod.Price = *p.Price
	}
	if p.Quantity != nil {
		prod.Quantity = *p.Quantity
	}
	if p.Description != nil {
		prod.Description = *p.Description
	}
	if p.ImageRef != nil {
		ref := *p.ImageRef
		prod.ImageRef = &ref
	}
	return prod
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Errorf(KindValidation, "name is required")
	}
	return nil
}

// Batas harga & stok mengikuti kolom NUMERIC(12,2) dan INTEGER di Postgres,
// supaya kedua store menolak input yang sama.
const (
	MaxQuantity    = math.MaxInt32
	priceScale     = 2
	priceIntDigits = 10
)

var maxPrice = decimal.New(1, priceIntDigits)

func validatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return Errorf(KindValidation, "price must be > 0")
	}
	if !p.Equal(p.Truncate(priceScale)) {
		return Errorf(KindValidation, "price must have at most %d decimal places", priceScale)
	}
	if p.GreaterThanOrEqual(maxPrice) {
		return Errorf(KindValidation, "price must be below %s", maxPrice)
	}
	return nil
}

func validateQuantity(q int) error {
	if q < 0 {
		return Errorf(KindValidation, "quantity must be >= 0")
	}
	if q > MaxQuantity {
		return Errorf(KindValidation, "quantity must be <= %d", MaxQuantity)
	}
	return nil
}

// adjusted returns cur+delta, rejecting results outside [0, MaxQuantity].
// delta is bounded first so the sum cannot overflow int.
func adjusted(cur, delta int) (int, error) {
	if delta > MaxQuantity || delta < -MaxQuantity {
		return 0, Errorf(KindValidation, "delta must be within ±%d", MaxQuantity)
	}
	next := cur + delta
	if next < 0 {
		return 0, Errorf(KindInsufficientStock, "not enough quantity available: have %d, delta %d", cur, delta)
	}
	if next > MaxQuantity {
		return 0, Errorf(KindValidation, "quantity would exceed %d", MaxQuantity)
	}
	return next, nil
}

// Reservation is a request to claim stock of one product for one buyer.
type Reservation struct {
	BuyerID   string
	ProductID string
	Quantity  int
	// SellerID, when set, must match the product owner at commit time.
	SellerID string
}

// check runs the reservation rules against the product as locked in the
// critical section. Order matters: self-trade wins over stock, stock over quantity.
func (r Reservation) check(p Product) error {
	if p.OwnerID == r.BuyerID {
		return Errorf(KindSelfTrade, "buyer %s owns product %s", r.BuyerID, p.ID)
	}
	if r.SellerID != "" && r.SellerID != p.OwnerID {
		return Errorf(KindValidation, "seller_id does not match product owner")
	}
	if r.Quantity > p.Quantity {
		return Errorf(KindInsufficientStock, "not enough quantity available: requested %d, available %d", r.Quantity, p.Quantity)
	}
	if r.Quantity <= 0 {
		return Errorf(KindValidation, "invalid quantity %d", r.Quantity)
	}
	return nil
}

// newOrder builds the pending order for a reservation that passed check.
func (r Reservation) newOrder(p Product, id string, now time.Time) Order {
	return Order{
		ID:        id,
		BuyerID:   r.BuyerID,
		SellerID:  p.OwnerID,
		ProductID: p.ID,
		Quantity:  r.Quantity,
		Price:     p.Price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type OrderFilter struct {
	BuyerID  string
	SellerID string
	// UserID matches orders where the user is either buyer or seller.
	UserID string
}

func (f OrderFilter) Match(o Order) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.SellerID != "" && o.SellerID != f.SellerID {
		return false
	}
	if f.UserID != "" && o.BuyerID != f.UserID && o.SellerID != f.UserID {
		return false
	}
	return true
}

func validateOrder(o Order) error {
	if o.BuyerID == "" || o.SellerID == "" || o.ProductID == "" {
		return Errorf(KindValidation, "buyer_id, seller_id and product_id are required")
	}
	if o.Quantity <= 0 {
		return Errorf(KindValidation, "invalid quantity %d", o.Quantity)
	}
	if o.Price.IsNegative() {
		return Errorf(KindValidation, "price must be >= 0")
	}
	return nil
}
