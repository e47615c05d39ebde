package mobilepay

import (
	"net/url"
	"slices"
	"strconv"

	"github.com/mobilbillet/payments/internal/providers"
)

// Values of the result query parameter on the return URL.
const (
	ResultSuccess = "success"
	ResultCancel  = "cancel"
	ResultError   = "error"
)

// Reentry is what the wallet app reports when it hands control back.
type Reentry struct {
	Result          string
	OrderID         string
	TransactionID   string
	AmountWithdrawn float64
	ErrorCode       int
	ErrorMessage    string
}

// ParseReentry reads the wallet's return URL query. Missing or unparsable
// numbers are left at zero.
func ParseReentry(q url.Values) Reentry {
	r := Reentry{
		Result:        q.Get("result"),
		OrderID:       q.Get("orderId"),
		TransactionID: q.Get("transactionId"),
		ErrorMessage:  q.Get("errorMessage"),
	}
	if v, err := strconv.ParseFloat(q.Get("amountWithdrawnFromCard"), 64); err == nil {
		r.AmountWithdrawn = v
	}
	if v, err := strconv.Atoi(q.Get("errorCode")); err == nil {
		r.ErrorCode = v
	}
	return r
}

// ReentryEvent turns a return URL query into a session event.
func ReentryEvent(q url.Values) providers.Event {
	ev := providers.Event{Name: providers.EventURLReentry}
	for _, k := range sortedKeys(q) {
		for _, v := range q[k] {
			ev.Params = append(ev.Params, providers.Param{Key: k, Value: v})
		}
	}
	return ev
}

func reentryFromEvent(ev providers.Event) Reentry {
	q := url.Values{}
	for _, p := range ev.Params {
		q.Add(p.Key, p.Value)
	}
	r := ParseReentry(q)
	if r.ErrorCode == 0 && ev.Code != 0 {
		r.ErrorCode = ev.Code
	}
	if r.ErrorMessage == "" {
		r.ErrorMessage = ev.Message
	}
	return r
}

func sortedKeys(q url.Values) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
