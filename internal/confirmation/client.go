// Package confirmation calls the backend confirm-order endpoint once per
// invocation. Retrying is left to the caller.
package confirmation

import (
	"context"
	"fmt"
	"math"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/apiclient"
)

// Poster is the slice of the backend API client the confirmation call needs.
type Poster interface {
	Do(ctx context.Context, method, rawURL string, body any) (*apiclient.Response, error)
}

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

type Client struct {
	api Poster
}

func NewClient(api Poster) *Client {
	return &Client{api: api}
}

// Confirm posts req to endpoint and returns the ticket id.
//
// A JSON object with an integral productId is a success. An object whose
// productId is absent or not an integer yields ErrMalformedResponse; any
// other body is an unexpected response and counts as a transport failure.
func (c *Client) Confirm(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
	resp, err := c.api.Do(ctx, http.MethodPost, endpoint, req)
	if err != nil {
		return 0, fmt.Errorf("confirm order %s: %w", req.OrderID, err)
	}
	return ParseTicketID(resp.Body)
}

// ParseTicketID extracts productId from a confirm-order reply.
func ParseTicketID(body []byte) (int, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, fmt.Errorf("%w: unexpected confirmation response: %v", domainErrors.ErrTransport, err)
	}

	fields, ok := decoded.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected confirmation response of type %T", domainErrors.ErrTransport, decoded)
	}

	raw, ok := fields["productId"]
	if !ok {
		return 0, fmt.Errorf("%w: productId missing", domainErrors.ErrMalformedResponse)
	}

	n, ok := apiclient.Integer(raw)
	if !ok {
		return 0, fmt.Errorf("%w: productId %v is not an integer", domainErrors.ErrMalformedResponse, raw)
	}
	if n > math.MaxInt || n < math.MinInt {
		return 0, fmt.Errorf("%w: productId %d overflows int", domainErrors.ErrMalformedResponse, n)
	}
	return int(n), nil
}
