package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the on-disk date format for every serialization.
const DateLayout = "2006-01-02"

// PriceScale is the number of decimal places kept for prices.
const PriceScale = 4

// ReturnScale is the number of decimal places kept for returns.
const ReturnScale = 6

// PriceObservation is one daily price for one entity (ticker).
// Shared by providers, the excerpt builder and the savers.
type PriceObservation struct {
	EntityID string
	Date     time.Time // UTC midnight
	Price    decimal.Decimal
	Volume   *int64           // optional
	Return   *decimal.Decimal // optional, derived by the excerpt builder
}

// Day returns the UTC midnight of the given calendar date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the clock part of t and moves it to UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return Day(y, m, d)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// RoundPrice rounds to PriceScale decimal places.
func RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PriceScale)
}

// RoundReturn rounds to ReturnScale decimal places.
func RoundReturn(r decimal.Decimal) decimal.Decimal {
	return r.Round(ReturnScale)
}

// SimpleReturns sets Return on every observation to the change in price
// since the entity's previous observation. Each entity's first observation
// gets zero. obs must be in chronological order per entity.
func SimpleReturns(obs []PriceObservation) {
	prev := make(map[string]decimal.Decimal)
	for i := range obs {
		o := &obs[i]
		r := decimal.Zero
		if p, ok := prev[o.EntityID]; ok {
			r = RoundReturn(o.Price.Div(p).Sub(decimal.NewFromInt(1)))
		}
		o.Return = &r
		prev[o.EntityID] = o.Price
	}
}

// Int64Ptr is a helper for optional volumes.
func Int64Ptr(v int64) *int64 {
	return &v
}

// Equal reports whether two observations carry the same logical content.
func (o PriceObservation) Equal(other PriceObservation) bool {
	if o.EntityID != other.EntityID || !o.Date.Equal(other.Date) || !o.Price.Equal(other.Price) {
		return false
	}
	if (o.Volume == nil) != (other.Volume == nil) || (o.Volume != nil && *o.Volume != *other.Volume) {
		return false
	}
	if (o.Return == nil) != (other.Return == nil) {
		return false
	}
	return o.Return == nil || o.Return.Equal(*other.Return)
}
