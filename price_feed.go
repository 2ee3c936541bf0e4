package match

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeed supplies the reference price of an instrument when its book has
// not traded yet, and accepts price updates from trading and external sources.
type PriceFeed interface {
	Price(instrument Instrument) (decimal.Decimal, bool)
	Update(instrument Instrument, price decimal.Decimal, at time.Time)
}

// MemoryPriceFeed keeps the latest price per instrument. Safe for concurrent use.
type MemoryPriceFeed struct {
	prices sync.Map // Instrument -> *lastTrade
}

func NewMemoryPriceFeed() *MemoryPriceFeed {
	return &MemoryPriceFeed{}
}

func (f *MemoryPriceFeed) Price(instrument Instrument) (decimal.Decimal, bool) {
	v, ok := f.prices.Load(instrument)
	if !ok {
		return decimal.Zero, false
	}
	return v.(*lastTrade).load()
}

func (f *MemoryPriceFeed) Update(instrument Instrument, price decimal.Decimal, at time.Time) {
	v, _ := f.prices.LoadOrStore(instrument, &lastTrade{})
	v.(*lastTrade).store(price, at.UnixNano())
}
