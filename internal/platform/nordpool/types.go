package nordpool

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// Status is the provider's publication status filter.
type Status string

const (
	StatusOfficial    Status = "O"
	StatusProvisional Status = "P"
)

// StatusFor maps a batch origin to the status to request. Only official and
// provisional data exist upstream.
func StatusFor(origin domain.Origin) (Status, bool) {
	switch origin {
	case domain.OriginOfficial:
		return StatusOfficial, true
	case domain.OriginProvisional:
		return StatusProvisional, true
	default:
		return "", false
	}
}

// tokenResponse is the body of the token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// areaPrices is one element of the day-ahead prices response.
type areaPrices struct {
	DeliveryArea string       `json:"deliveryArea"`
	Status       string       `json:"status"`
	Currency     string       `json:"currency"`
	Unit         string       `json:"unit"`
	Values       []priceValue `json:"values"`
}

type priceValue struct {
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Value     decimal.Decimal `json:"value"`
}
