package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

const maxBodySize = 1 << 20

var maxQuantity = decimal.NewFromInt(order.MaxQuantity)

type createOrderBody struct {
	Lines []order.Line
	Total decimal.Decimal
}

type payOrderBody struct {
	Details payment.Details
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.New("expected number")
	}
}

// decodeQuantity accepts integral values within the line limit.
func decodeQuantity(d *jx.Decoder) (int, error) {
	q, err := decodeDecimal(d)
	if err != nil {
		return 0, err
	}
	if !q.IsInteger() {
		return 0, errors.New("expected integer")
	}
	if q.Abs().GreaterThan(maxQuantity) {
		return 0, errors.New("out of range")
	}
	return int(q.IntPart()), nil
}

func decodeCreateOrder(data []byte) (createOrderBody, error) {
	var body createOrderBody
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "lines", "items":
			return d.Arr(func(d *jx.Decoder) error {
				var l order.Line
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						l.ProductID, err = d.Str()
					case "quantity":
						l.Quantity, err = decodeQuantity(d)
					case "unitPrice", "price":
						l.UnitPrice, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					if err != nil {
						return errors.Wrap(err, key)
					}
					return nil
				}); err != nil {
					return err
				}
				body.Lines = append(body.Lines, l)
				return nil
			})
		case "total":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "total")
			}
			body.Total = v
			return nil
		default:
			return d.Skip()
		}
	})
	return body, err
}

func decodePayOrder(data []byte) (payOrderBody, error) {
	var body payOrderBody
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "paymentDetails" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "token" {
				return d.Skip()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "token")
			}
			body.Details.Token = v
			return nil
		})
	})
	return body, err
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("isPaid")
	e.Bool(o.Paid)
	e.FieldStart("total")
	encodeDecimal(e, o.Total)
	e.FieldStart("discount")
	encodeDecimal(e, o.Discount)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	if o.PaymentReference != "" {
		e.FieldStart("paymentReference")
		e.Str(o.PaymentReference)
	}
	if o.FailureReason != "" {
		e.FieldStart("failureReason")
		e.Str(o.FailureReason)
	}
	e.FieldStart("attempts")
	e.Int(o.Attempts)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	if o.PaidAt != nil {
		e.FieldStart("paidAt")
		e.Str(o.PaidAt.UTC().Format(time.RFC3339Nano))
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		if it.Product != nil {
			e.FieldStart("name")
			e.Str(it.Product.Name)
			if it.Product.Image != "" {
				e.FieldStart("image")
				e.Str(it.Product.Image)
			}
		}
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		encodeDecimal(e, it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

// writeJSON encodes a response body with fn and writes it with status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	fn(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}
