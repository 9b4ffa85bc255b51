package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrMarketData      = errors.New("market data unavailable")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrUnknownArea     = errors.New("unknown price area")
	ErrInvalidInterval = errors.New("invalid price interval")
	ErrInvalidBatch    = errors.New("invalid price batch")
)

// MarketDataError is the single failure type surfaced by the market-data
// client. Transport failures, unexpected status codes and undecodable bodies
// all end up here.
type MarketDataError struct {
	Op         string
	Area       PriceArea
	StatusCode int
	Err        error
}

func (e *MarketDataError) Error() string {
	msg := "market data: " + e.Op
	if e.Area != "" {
		msg += " " + string(e.Area)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MarketDataError) Unwrap() error {
	return e.Err
}

// Is makes every MarketDataError match ErrMarketData.
func (e *MarketDataError) Is(target error) bool {
	return target == ErrMarketData
}
