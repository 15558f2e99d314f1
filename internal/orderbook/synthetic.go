package orderbook

// Synthetic 合成供给：发行方未售出份额构成的虚拟卖单。
// 不落库、不可撤销，价格固定为发行单价。
type Synthetic struct {
	Price     int64
	Remaining int64
}

// SyntheticAsk 由产品发行参数与累计已售数量计算合成卖单。
// 纯函数，只在订单簿重建时调用；撮合期间的消耗由引擎在内存中维护。
func SyntheticAsk(totalUnits, cumulativeAcquired, unitPrice int64) Synthetic {
	remaining := totalUnits - cumulativeAcquired
	if remaining < 0 {
		remaining = 0
	}
	return Synthetic{Price: unitPrice, Remaining: remaining}
}

// Exhausted 合成供给是否已耗尽
func (s Synthetic) Exhausted() bool {
	return s.Remaining <= 0
}

// Consume 消耗合成供给，返回实际消耗量
func (s *Synthetic) Consume(qty int64) int64 {
	if qty <= 0 || s.Remaining <= 0 {
		return 0
	}
	if qty > s.Remaining {
		qty = s.Remaining
	}
	s.Remaining -= qty
	return qty
}
