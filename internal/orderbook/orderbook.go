// Package orderbook 单个产品的内存订单簿
package orderbook

import (
	"container/list"
	"errors"
	"sort"
	"sync"
)

// Side 买卖方向
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

var (
	ErrDuplicateOrder = errors.New("order already in book")
	ErrOrderNotInBook = errors.New("order not in book")
)

// Order 簿内挂单（仅保留撮合需要的字段）
type Order struct {
	ID     int64
	UserID int64
	Side   Side
	Price  int64
	Qty    int64 // 剩余数量

	seq uint64 // 到达顺序，价位内 FIFO
}

// Level 价位档
type Level struct {
	Price  int64
	Orders *list.List // *Order，按到达顺序
	Total  int64
}

// Book 单产品订单簿：买单价格降序，卖单价格升序，同价位按到达顺序
type Book struct {
	mu sync.RWMutex

	ProductID int64

	bids map[int64]*Level
	asks map[int64]*Level

	bidPrices []int64 // 降序
	askPrices []int64 // 升序

	orders  map[int64]*Order
	nextSeq uint64
}

// New 创建订单簿
func New(productID int64) *Book {
	return &Book{
		ProductID: productID,
		bids:      make(map[int64]*Level),
		asks:      make(map[int64]*Level),
		orders:    make(map[int64]*Order),
	}
}

// Add 插入挂单，保持价位与到达顺序
func (b *Book) Add(o *Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o == nil || o.Qty <= 0 {
		return ErrOrderNotInBook
	}
	if _, exists := b.orders[o.ID]; exists {
		return ErrDuplicateOrder
	}

	b.nextSeq++
	o.seq = b.nextSeq

	levels, prices := b.sideOf(o.Side)
	lvl, ok := levels[o.Price]
	if !ok {
		lvl = &Level{Price: o.Price, Orders: list.New()}
		levels[o.Price] = lvl
		b.setPrices(o.Side, insertPrice(*prices, o.Price, o.Side == SideBuy))
	}
	lvl.Orders.PushBack(o)
	lvl.Total += o.Qty
	b.orders[o.ID] = o
	return nil
}

// Remove 摘除挂单；不在簿中返回 false
func (b *Book) Remove(orderID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID int64) bool {
	o, ok := b.orders[orderID]
	if !ok {
		return false
	}

	levels, prices := b.sideOf(o.Side)
	lvl, ok := levels[o.Price]
	if ok {
		for e := lvl.Orders.Front(); e != nil; e = e.Next() {
			if e.Value.(*Order).ID == orderID {
				lvl.Orders.Remove(e)
				lvl.Total -= o.Qty
				break
			}
		}
		if lvl.Orders.Len() == 0 {
			delete(levels, o.Price)
			b.setPrices(o.Side, removePrice(*prices, o.Price))
		}
	}
	delete(b.orders, orderID)
	return true
}

// Reduce 减少挂单剩余数量，降为 0 时摘除
func (b *Book) Reduce(orderID int64, qty int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return ErrOrderNotInBook
	}
	if qty >= o.Qty {
		b.removeLocked(orderID)
		return nil
	}
	o.Qty -= qty
	if lvl, ok := b.sideLevels(o.Side)[o.Price]; ok {
		lvl.Total -= qty
	}
	return nil
}

// BestBid 最优买价
func (b *Book) BestBid() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidPrices) == 0 {
		return 0, false
	}
	return b.bidPrices[0], true
}

// BestAsk 最优卖价（仅真实挂单）
func (b *Book) BestAsk() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.askPrices) == 0 {
		return 0, false
	}
	return b.askPrices[0], true
}

// BestBidOrder 最优价位的队首买单
func (b *Book) BestBidOrder() *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidPrices) == 0 {
		return nil
	}
	lvl := b.bids[b.bidPrices[0]]
	if lvl == nil || lvl.Orders.Len() == 0 {
		return nil
	}
	return lvl.Orders.Front().Value.(*Order)
}

// BestAskOrder 最优价位的队首卖单
func (b *Book) BestAskOrder() *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.askPrices) == 0 {
		return nil
	}
	lvl := b.asks[b.askPrices[0]]
	if lvl == nil || lvl.Orders.Len() == 0 {
		return nil
	}
	return lvl.Orders.Front().Value.(*Order)
}

// AskLiquidity 卖侧真实挂单总量
func (b *Book) AskLiquidity() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, lvl := range b.asks {
		total += lvl.Total
	}
	return total
}

// Contains 订单是否在簿中
func (b *Book) Contains(orderID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.orders[orderID]
	return ok
}

// RemainingQty 簿内剩余数量，不在簿中返回 0
func (b *Book) RemainingQty(orderID int64) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o, ok := b.orders[orderID]; ok {
		return o.Qty
	}
	return 0
}

// OpenSellQty 用户在簿中的卖单剩余总量
func (b *Book) OpenSellQty(userID int64) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, o := range b.orders {
		if o.Side == SideSell && o.UserID == userID {
			total += o.Qty
		}
	}
	return total
}

// Empty 双边均无挂单
func (b *Book) Empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders) == 0
}

func (b *Book) sideOf(side Side) (map[int64]*Level, *[]int64) {
	if side == SideBuy {
		return b.bids, &b.bidPrices
	}
	return b.asks, &b.askPrices
}

func (b *Book) sideLevels(side Side) map[int64]*Level {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) setPrices(side Side, prices []int64) {
	if side == SideBuy {
		b.bidPrices = prices
	} else {
		b.askPrices = prices
	}
}

// insertPrice 有序插入价格；desc 为 true 时降序
func insertPrice(prices []int64, price int64, desc bool) []int64 {
	i := sort.Search(len(prices), func(i int) bool {
		if desc {
			return prices[i] < price
		}
		return prices[i] > price
	})
	prices = append(prices, 0)
	copy(prices[i+1:], prices[i:])
	prices[i] = price
	return prices
}

func removePrice(prices []int64, price int64) []int64 {
	for i, p := range prices {
		if p == price {
			return append(prices[:i], prices[i+1:]...)
		}
	}
	return prices
}
