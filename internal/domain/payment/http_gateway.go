package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseSize bounds the provider response body read into memory.
const maxResponseSize = 64 << 10

// HTTPGatewayConfig configures HTTPGateway.
type HTTPGatewayConfig struct {
	// Endpoint is the provider base URL, e.g. https://payments.example.com.
	Endpoint  string
	SecretKey string
	// Timeout bounds one HTTP round trip. The caller's context deadline
	// still applies when shorter.
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
}

// HTTPGateway authorizes tokenized payments against a provider's REST API:
//
//	POST {endpoint}/v1/authorizations
//	{"amount":180000,"currency":"usd","token":"tok_...","reference":"<order id>"}
//
// answered with {"id":"auth_...","status":"approved"} or
// {"status":"declined","decline_reason":"..."}.
type HTTPGateway struct {
	endpoint  string
	secretKey string
	client    *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates an HTTPGateway.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("payment endpoint required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("payment secret key required")
	}
	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	return &HTTPGateway{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		secretKey: cfg.SecretKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}, nil
}

// Authorize implements Gateway.
func (g *HTTPGateway) Authorize(ctx context.Context, req Request) (Outcome, error) {
	token := strings.TrimSpace(req.Details.Token)
	if token == "" {
		return Outcome{}, errors.New("payment token required")
	}
	if LooksLikeCardNumber(token) {
		return Outcome{}, ErrRawCardData
	}

	body := encodeAuthorization(req, token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/authorizations", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.secretKey)
	httpReq.Header.Set("Idempotency-Key", req.OrderID)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Outcome{}, &TransportError{Op: "authorize", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Outcome{}, &TransportError{Op: "read response", Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return Outcome{}, &TransportError{Op: "authorize", Err: errors.Errorf("status %d", resp.StatusCode)}
	}

	out, err := decodeAuthorization(raw)
	if err != nil {
		return Outcome{}, &TransportError{
			Op:  "decode response",
			Err: errors.Wrapf(err, "status %d", resp.StatusCode),
		}
	}
	return out, nil
}

func encodeAuthorization(req Request, token string) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(MinorUnits(req.Amount))
	e.FieldStart("currency")
	e.Str(strings.ToLower(req.Currency))
	e.FieldStart("token")
	e.Str(token)
	e.FieldStart("reference")
	e.Str(req.OrderID)
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func decodeAuthorization(raw []byte) (Outcome, error) {
	var id, status, reason string
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			id, err = d.Str()
		case "status":
			status, err = d.Str()
		case "decline_reason":
			reason, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return Outcome{}, err
	}

	switch status {
	case "approved":
		if id == "" {
			return Outcome{}, errors.New("approved without authorization id")
		}
		return Approved(id), nil
	case "declined":
		if reason == "" {
			reason = ReasonDeclined
		}
		return Declined(reason), nil
	default:
		return Outcome{}, fmt.Errorf("unexpected authorization status %q", status)
	}
}

// MinorUnits converts a two-decimal currency amount to its smallest unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
