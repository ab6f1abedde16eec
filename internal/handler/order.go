package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)

	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body, err := decodeCreateOrder(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.builder.CreateOrder(r.Context(), order.CreateRequest{
		UserID: id.UserID,
		Lines:  body.Lines,
		Total:  body.Total,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Order created",
		zap.String("order_id", res.Order.ID),
		zap.String("total", res.Order.Total.String()),
		zap.String("coupon", res.CouponCode),
	)

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		e.FieldStart("discount")
		encodeDecimal(e, res.Discount)
		e.FieldStart("couponCode")
		if res.CouponCode == "" {
			e.Null()
		} else {
			e.Str(res.CouponCode)
		}
		e.ObjEnd()
	})
}

// PayOrder handles POST /orders/{orderID}/pay.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)

	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body, err := decodePayOrder(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	o, err := h.settler.Settle(r.Context(), chi.URLParam(r, "orderID"), id.UserID, body.Details)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}

// GetOrder handles GET /orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)

	o, err := h.history.GetOrderByID(r.Context(), chi.URLParam(r, "orderID"), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)

	orders, err := h.history.ListUserOrders(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrders(e, orders)
	})
}

// ListAllOrders handles GET /admin/orders.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.history.ListAllOrders(r.Context(), mustIdentity(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrders(e, orders)
	})
}

// mustIdentity returns the caller resolved by SecurityHandler. Routes are
// only reachable through Authenticate, so the identity is always present.
func mustIdentity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// fail maps domain errors to HTTP responses. Internal failures are logged
// with detail and answered with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *order.ValidationError
		notFound   *order.ProductNotFoundError
		mismatch   *order.PriceMismatchError
		declined   *payment.DeclinedError
		transport  *payment.TransportError
		storage    *order.StorageError
	)
	lg := zctx.From(r.Context())

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &notFound):
		writeError(w, http.StatusUnprocessableEntity, notFound.Error())
	case errors.As(err, &mismatch):
		writeError(w, http.StatusUnprocessableEntity, mismatch.Error())
	case errors.Is(err, payment.ErrRawCardData):
		writeError(w, http.StatusBadRequest, "raw card data is not accepted, use a payment token")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "order already paid")
	case errors.Is(err, order.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &declined):
		writeError(w, http.StatusBadRequest, declined.Reason)
	case errors.As(err, &transport):
		lg.Error("Payment gateway unavailable", zap.Error(err), zap.Bool("timeout", transport.Timeout()))
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	case errors.As(err, &storage):
		lg.Error("Storage failure", zap.String("op", storage.Op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		lg.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
