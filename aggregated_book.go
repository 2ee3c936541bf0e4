package match

import (
	"time"

	"github.com/0x5487/venue-core/protocol"
	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// DepthItem is the aggregated liquidity of one price bucket.
type DepthItem struct {
	Price     decimal.Decimal `json:"price"`
	Remaining decimal.Decimal `json:"remaining"`
	Executed  decimal.Decimal `json:"executed"`
	Total     decimal.Decimal `json:"total"`
	Count     int64           `json:"count"`
}

// DepthLevel is one aggregation granularity of a depth snapshot.
// Asks are ascending, bids descending.
type DepthLevel struct {
	Level int32        `json:"level"`
	Asks  []*DepthItem `json:"asks"`
	Bids  []*DepthItem `json:"bids"`
}

// Protocol converts the level into its wire form with decimals rendered as strings.
func (l DepthLevel) Protocol() *protocol.GetDepthResponse {
	resp := &protocol.GetDepthResponse{
		Level: l.Level,
		Asks:  make([]*protocol.DepthItem, 0, len(l.Asks)),
		Bids:  make([]*protocol.DepthItem, 0, len(l.Bids)),
	}
	for _, item := range l.Asks {
		resp.Asks = append(resp.Asks, item.protocol())
	}
	for _, item := range l.Bids {
		resp.Bids = append(resp.Bids, item.protocol())
	}
	return resp
}

func (item *DepthItem) protocol() *protocol.DepthItem {
	return &protocol.DepthItem{
		Price:     item.Price.String(),
		Remaining: item.Remaining.String(),
		Executed:  item.Executed.String(),
		Total:     item.Total.String(),
		Count:     item.Count,
	}
}

// DepthSnapshot is what the book publishes after every mutation.
type DepthSnapshot struct {
	Book   BookKey      `json:"book"`
	Levels []DepthLevel `json:"levels"`
	Time   time.Time    `json:"time"`
}

// aggregatedSide groups resting orders into price buckets.
type aggregatedSide struct {
	buckets *treemap.TreeMap[decimal.Decimal, *DepthItem]
}

func newAggregatedSide() *aggregatedSide {
	return &aggregatedSide{
		buckets: treemap.NewWithKeyCompare[decimal.Decimal, *DepthItem](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
	}
}

func (s *aggregatedSide) add(bucket decimal.Decimal, remaining, executed, total decimal.Decimal) {
	item, ok := s.buckets.Get(bucket)
	if !ok {
		item = &DepthItem{Price: bucket}
		s.buckets.Set(bucket, item)
	}
	item.Remaining = item.Remaining.Add(remaining)
	item.Executed = item.Executed.Add(executed)
	item.Total = item.Total.Add(total)
	item.Count++
}

func (s *aggregatedSide) ascending(limit int) []*DepthItem {
	if limit <= 0 || limit > s.buckets.Len() {
		limit = s.buckets.Len()
	}
	result := make([]*DepthItem, 0, limit)
	for it := s.buckets.Iterator(); it.Valid() && len(result) < limit; it.Next() {
		result = append(result, it.Value())
	}
	return result
}

func (s *aggregatedSide) descending(limit int) []*DepthItem {
	if limit <= 0 || limit > s.buckets.Len() {
		limit = s.buckets.Len()
	}
	result := make([]*DepthItem, 0, limit)
	for it := s.buckets.Reverse(); it.Valid() && len(result) < limit; it.Next() {
		result = append(result, it.Value())
	}
	return result
}

// depthQuantities returns the remaining and total quantity an order shows in
// depth. Buys sized by amount only are converted at their own price.
func (book *OrderBook) depthQuantities(o *Order) (remaining, total decimal.Decimal) {
	if o.Quantity.IsPositive() {
		return o.RemainingQuantity, o.Quantity
	}
	remaining = o.RemainingAmount.DivRound(o.Price, book.quantityScale+1).RoundFloor(book.quantityScale)
	total = o.Amount.DivRound(o.Price, book.quantityScale+1).RoundFloor(book.quantityScale)
	return remaining, total
}

func (book *OrderBook) depthVisible(o *Order) bool {
	if o.Finished || o.Canceled || o.effectiveType() == Market {
		return false
	}
	remaining, _ := book.depthQuantities(o)
	return remaining.IsPositive()
}

func (book *OrderBook) aggregate(side *bookSide, level int32) *aggregatedSide {
	agg := newAggregatedSide()
	places := book.priceScale - level
	for el := side.front(); el != nil; el = el.Next() {
		o := el.Value.(*Order)
		if !book.depthVisible(o) {
			continue
		}
		remaining, total := book.depthQuantities(o)
		agg.add(o.Price.RoundFloor(places), remaining, o.ExecutedQuantity, total)
	}
	return agg
}

// SnapshotDepth aggregates resting orders per depth level. A level truncates
// that many trailing digits of the book's price scale. Each side is cut to
// limit buckets; a non-positive limit keeps all.
func (book *OrderBook) SnapshotDepth(levels []int32, limit int) []DepthLevel {
	if len(levels) == 0 {
		levels = []int32{0}
	}
	result := make([]DepthLevel, 0, len(levels))
	for _, level := range levels {
		result = append(result, DepthLevel{
			Level: level,
			Asks:  book.aggregate(book.asks, level).ascending(limit),
			Bids:  book.aggregate(book.bids, level).descending(limit),
		})
	}
	return result
}
