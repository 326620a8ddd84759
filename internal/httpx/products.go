package httpx

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/inventory"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type createProductReq struct {
	SellerID    flexID          `json:"seller_id" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"min=0"`
	Description string          `json:"description"`
}

type updateProductReq struct {
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Quantity    *int             `json:"quantity" validate:"omitempty,min=0"`
	Description *string          `json:"description"`
}

type restockReq struct {
	Delta *int `json:"delta" validate:"required"`
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
}

func (h *Handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Query.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Query.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	var img *inventory.Image
	if isMultipart(r) {
		form, image, cleanup, err := h.parseForm(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer cleanup()
		img = image
		req = createProductReq{
			SellerID:    flexID(strings.TrimSpace(form.get("seller_id"))),
			Name:        form.get("name"),
			Description: form.get("description"),
		}
		if req.Price, err = form.dec("price"); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Quantity, err = form.atoi("quantity"); err != nil {
			writeError(w, r, err)
			return
		}
		if err := validateStruct(&req); err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Inventory.CreateProduct(ctx, orders.NewProduct{
		OwnerID:     string(req.SellerID),
		Name:        req.Name,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Description: req.Description,
	}, img)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductReq
	var img *inventory.Image
	if isMultipart(r) {
		form, image, cleanup, err := h.parseForm(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer cleanup()
		img = image
		req.Name = form.ptr("name")
		req.Description = form.ptr("description")
		if form.has("price") {
			d, err := form.dec("price")
			if err != nil {
				writeError(w, r, err)
				return
			}
			req.Price = &d
		}
		if form.has("quantity") {
			n, err := form.atoi("quantity")
			if err != nil {
				writeError(w, r, err)
				return
			}
			req.Quantity = &n
		}
		if err := validateStruct(&req); err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Inventory.UpdateProduct(ctx, chi.URLParam(r, "id"), orders.ProductPatch{
		Name:        req.Name,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Description: req.Description,
	}, img)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) restockProduct(w http.ResponseWriter, r *http.Request) {
	var req restockReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Inventory.Restock(ctx, chi.URLParam(r, "id"), *req.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// productForm reads text fields of a multipart product form.
type productForm struct{ v map[string][]string }

func (f productForm) has(k string) bool {
	vs, ok := f.v[k]
	return ok && len(vs) > 0 && strings.TrimSpace(vs[0]) != ""
}

func (f productForm) get(k string) string {
	if vs := f.v[k]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (f productForm) ptr(k string) *string {
	vs, ok := f.v[k]
	if !ok || len(vs) == 0 {
		return nil
	}
	s := vs[0]
	return &s
}

func (f productForm) dec(k string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(f.get(k)))
	if err != nil {
		return decimal.Decimal{}, orders.Errorf(orders.KindValidation, "%s must be a number", k)
	}
	return d, nil
}

func (f productForm) atoi(k string) (int, error) {
	s := strings.TrimSpace(f.get(k))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, orders.Errorf(orders.KindValidation, "%s must be an integer", k)
	}
	return n, nil
}

// parseForm parses a multipart body capped at the upload limit and returns
// the optional "image" file. cleanup closes the file and removes temp parts.
func (h *Handlers) parseForm(w http.ResponseWriter, r *http.Request) (productForm, *inventory.Image, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
	if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return productForm{}, nil, nil, orders.Errorf(orders.KindValidation, "upload exceeds %d bytes", tooBig.Limit)
		}
		return productForm{}, nil, nil, orders.Errorf(orders.KindValidation, "invalid multipart form: %v", err)
	}
	form := productForm{v: r.MultipartForm.Value}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	file, hdr, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil, cleanup, nil
	}
	if err != nil {
		cleanup()
		return productForm{}, nil, nil, orders.Errorf(orders.KindValidation, "invalid image: %v", err)
	}
	return form, imageFrom(file, hdr), func() { file.Close(); cleanup() }, nil
}

func imageFrom(f multipart.File, hdr *multipart.FileHeader) *inventory.Image {
	return &inventory.Image{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Body:        f,
	}
}
