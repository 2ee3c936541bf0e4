package match

// Priority rules. Each function returns a negative number when a ranks ahead
// of b. All four are total: distinct orders never compare equal because the
// book insertion sequence is the last key.

func typeRank(t OrderType) int {
	switch t {
	case Market:
		return 0
	case Limit:
		return 1
	default:
		return 2
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b *Order) int {
	if c := compareInt64(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return compareUint64(a.seq, b.seq)
}

// CompareAsk ranks the ask side: market first, then lowest price, then earliest.
func CompareAsk(a, b *Order) int {
	if c := typeRank(a.Type) - typeRank(b.Type); c != 0 {
		return c
	}
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c
	}
	return compareTime(a, b)
}

// CompareBid ranks the bid side: market first, then highest price, then earliest.
func CompareBid(a, b *Order) int {
	if c := typeRank(a.Type) - typeRank(b.Type); c != 0 {
		return c
	}
	if c := b.Price.Cmp(a.Price); c != 0 {
		return c
	}
	return compareTime(a, b)
}

// CompareBuyStop ranks pending buy stops by ascending trigger price, so the
// first entry is the first to fire when the price rises.
func CompareBuyStop(a, b *Order) int {
	if c := a.TriggerPrice.Cmp(b.TriggerPrice); c != 0 {
		return c
	}
	return compareTime(a, b)
}

// CompareSellStop ranks pending sell stops by descending trigger price.
func CompareSellStop(a, b *Order) int {
	if c := b.TriggerPrice.Cmp(a.TriggerPrice); c != 0 {
		return c
	}
	return compareTime(a, b)
}
