package orderbook

// LevelView 聚合后的价位视图
type LevelView struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// Snapshot 订单簿聚合快照：买单降序、卖单升序
type Snapshot struct {
	ProductID int64       `json:"productId"`
	Bids      []LevelView `json:"bids"`
	Asks      []LevelView `json:"asks"`
}

// Snapshot 聚合同价位挂单并并入合成供给。
// 合成供给与真实卖单同价时并入该档，不会重复计档。
func (b *Book) Snapshot(syn Synthetic) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		ProductID: b.ProductID,
		Bids:      make([]LevelView, 0, len(b.bidPrices)),
		Asks:      make([]LevelView, 0, len(b.askPrices)+1),
	}

	for _, price := range b.bidPrices {
		snap.Bids = append(snap.Bids, LevelView{Price: price, Quantity: b.bids[price].Total})
	}

	pending := syn.Remaining > 0
	for _, price := range b.askPrices {
		qty := b.asks[price].Total
		if pending {
			if price == syn.Price {
				qty += syn.Remaining
				pending = false
			} else if price > syn.Price {
				snap.Asks = append(snap.Asks, LevelView{Price: syn.Price, Quantity: syn.Remaining})
				pending = false
			}
		}
		snap.Asks = append(snap.Asks, LevelView{Price: price, Quantity: qty})
	}
	if pending {
		snap.Asks = append(snap.Asks, LevelView{Price: syn.Price, Quantity: syn.Remaining})
	}

	return snap
}
