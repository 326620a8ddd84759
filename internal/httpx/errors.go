package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/ariefcatur/go-marketplace/internal/orders"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindValidation, orders.KindInsufficientStock:
		return http.StatusBadRequest
	case orders.KindSelfTrade:
		return http.StatusForbidden
	case orders.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error onto its status code. Internal errors are
// logged and replaced with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := orders.KindOf(err)
	code := statusFor(kind)

	msg := err.Error()
	var e *orders.Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	switch kind {
	case orders.KindInternal:
		logx.FromContext(r.Context()).Error("request failed", "err", err)
		msg = "internal server error"
	case orders.KindContention:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, errorBody{Error: msg, Kind: string(kind)})
}
