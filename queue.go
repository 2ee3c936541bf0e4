package match

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// bookSide is one live side of a book (bids or asks), kept in priority order.
type bookSide struct {
	side     Side
	list     *skiplist.SkipList
	elements map[string]*skiplist.Element
}

func newSide(side Side, cmp func(a, b *Order) int) *bookSide {
	return &bookSide{
		side: side,
		list: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			o1, _ := lhs.(*Order)
			o2, _ := rhs.(*Order)
			return cmp(o1, o2)
		})),
		elements: make(map[string]*skiplist.Element),
	}
}

// newBidSide creates the buy side, best (highest) price first.
func newBidSide() *bookSide {
	return newSide(Buy, CompareBid)
}

// newAskSide creates the sell side, best (lowest) price first.
func newAskSide() *bookSide {
	return newSide(Sell, CompareAsk)
}

func (s *bookSide) insert(order *Order) {
	s.elements[order.ID] = s.list.Set(order, order)
}

func (s *bookSide) remove(order *Order) bool {
	el, ok := s.elements[order.ID]
	if !ok {
		return false
	}
	s.list.RemoveElement(el)
	delete(s.elements, order.ID)
	return true
}

func (s *bookSide) contains(id string) bool {
	_, ok := s.elements[id]
	return ok
}

func (s *bookSide) front() *skiplist.Element {
	return s.list.Front()
}

func (s *bookSide) len() int {
	return s.list.Len()
}

// orders returns the side's orders in priority order.
func (s *bookSide) orders() []*Order {
	result := make([]*Order, 0, s.list.Len())
	for el := s.list.Front(); el != nil; el = el.Next() {
		result = append(result, el.Value.(*Order))
	}
	return result
}

// stopSide holds pending stop orders ordered by trigger price.
type stopSide struct {
	side  Side
	tree  *btree.BTreeG[*Order]
	index map[string]*Order
}

func newStopSide(side Side) *stopSide {
	cmp := CompareSellStop
	if side == Buy {
		cmp = CompareBuyStop
	}
	return &stopSide{
		side: side,
		tree: btree.NewBTreeG(func(a, b *Order) bool {
			return cmp(a, b) < 0
		}),
		index: make(map[string]*Order),
	}
}

func (s *stopSide) insert(order *Order) {
	s.tree.Set(order)
	s.index[order.ID] = order
}

func (s *stopSide) remove(order *Order) bool {
	if _, ok := s.index[order.ID]; !ok {
		return false
	}
	s.tree.Delete(order)
	delete(s.index, order.ID)
	return true
}

func (s *stopSide) contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *stopSide) len() int {
	return s.tree.Len()
}

// triggered collects, in trigger order, the stops the price has reached.
// The scan stops at the first stop that cannot fire yet.
func (s *stopSide) triggered(price decimal.Decimal) []*Order {
	var result []*Order
	s.tree.Scan(func(o *Order) bool {
		if s.side == Buy && price.LessThan(o.TriggerPrice) {
			return false
		}
		if s.side == Sell && price.GreaterThan(o.TriggerPrice) {
			return false
		}
		result = append(result, o)
		return true
	})
	return result
}

func (s *stopSide) orders() []*Order {
	result := make([]*Order, 0, s.tree.Len())
	s.tree.Scan(func(o *Order) bool {
		result = append(result, o)
		return true
	})
	return result
}
