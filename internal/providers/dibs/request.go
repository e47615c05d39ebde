package dibs

import (
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/providers"
)

// LibraryVersion is sent when no version is configured.
const LibraryVersion = "1.2.3"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is the ordered parameter set handed to the DIBS payment window.
type Request struct {
	params []providers.Param
}

// Set replaces the value under key or appends it.
func (r *Request) Set(key, value string) {
	for i := range r.params {
		if r.params[i].Key == key {
			r.params[i].Value = value
			return
		}
	}
	r.params = append(r.params, providers.Param{Key: key, Value: value})
}

func (r *Request) Get(key string) string {
	for _, p := range r.params {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// PostData encodes the parameters in insertion order.
func (r *Request) PostData() string {
	parts := make([]string, 0, len(r.params))
	for _, p := range r.params {
		parts = append(parts, p.Key+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

// Fields returns the parameters as screen parameters.
func (r *Request) Fields() map[string]string {
	out := make(map[string]string, len(r.params))
	for _, p := range r.params {
		out[p.Key] = p.Value
	}
	return out
}

type customTheme struct {
	AppBgColor         string `json:"appBgColor"`
	PaybuttonBgColor   string `json:"paybuttonBgColor"`
	PaybuttonFontColor string `json:"paybuttonFontColor"`
}

// NewTicketPurchase builds a purchase charged against the customer's stored card ticket.
func NewTicketPurchase(cfg *config.DIBSConfig, orderID string, amount int64, ticket string) (*Request, error) {
	r := &Request{}
	r.Set("merchant", cfg.MerchantID)
	r.Set("orderid", orderID)
	r.Set("amount", strconv.FormatInt(amount, 10))
	r.Set("currency", cfg.CurrencyCode)
	r.Set("ticket", ticket)
	r.Set("uniqueoid", "yes")
	if err := configure(r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// NewPreAuthorization builds the pre-authorization used to register a new card.
func NewPreAuthorization(cfg *config.DIBSConfig, dibsOrderID string) (*Request, error) {
	r := &Request{}
	r.Set("merchant", cfg.MerchantID)
	r.Set("orderid", dibsOrderID)
	r.Set("currency", cfg.CurrencyCode)
	r.Set("paytype", strings.Join(cfg.PayTypes, ","))
	r.Set("preauth", "true")
	r.Set("uniqueoid", "no")
	if err := configure(r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func configure(r *Request, cfg *config.DIBSConfig) error {
	if cfg.TestMode {
		r.Set("test", "1")
	}
	r.Set("lang", cfg.Language)
	r.Set("theme", "custom")

	theme, err := json.Marshal(customTheme{
		AppBgColor:         cfg.Appearance.AppBackgroundColor,
		PaybuttonBgColor:   cfg.Appearance.PayButtonBackgroundColor,
		PaybuttonFontColor: cfg.Appearance.PayButtonFontColor,
	})
	if err != nil {
		return err
	}
	r.Set("custom_theme", string(theme))

	version := cfg.Version
	if version == "" {
		version = LibraryVersion
	}
	r.Set("version", version)
	return nil
}
