package engine

import (
	"context"
	"sync"

	"github.com/fracshare/trading/internal/orderbook"
)

const eventBufferSize = 1024

// Registry 按产品持有撮合执行体。每个产品一个 actor 协程，
// 跨产品完全并行，产品内全部变更串行。
type Registry struct {
	deps Deps

	mu      sync.RWMutex
	engines map[int64]*engine

	events chan Event

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRegistry 创建注册表
func NewRegistry(deps Deps) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:    deps,
		engines: make(map[int64]*engine),
		events:  make(chan Event, eventBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Events 引擎事件流
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Submit 下单，在目标产品的串行临界区内执行准入、落库与撮合
func (r *Registry) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	rep, err := r.send(ctx, req.ProductID, command{kind: cmdSubmit, submit: req})
	if err != nil {
		return nil, err
	}
	return rep.result, rep.err
}

// Cancel 撤单
func (r *Registry) Cancel(ctx context.Context, productID, orderID, userID int64) error {
	rep, err := r.send(ctx, productID, command{kind: cmdCancel, orderID: orderID, userID: userID})
	if err != nil {
		return err
	}
	return rep.err
}

// Snapshot 订单簿聚合快照
func (r *Registry) Snapshot(ctx context.Context, productID int64) (orderbook.Snapshot, error) {
	rep, err := r.send(ctx, productID, command{kind: cmdSnapshot})
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	return rep.snapshot, rep.err
}

func (r *Registry) send(ctx context.Context, productID int64, cmd command) (reply, error) {
	e := r.getOrCreate(productID)
	cmd.reply = make(chan reply, 1)

	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-r.ctx.Done():
		return reply{}, r.ctx.Err()
	}

	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-r.ctx.Done():
		// 执行体可能在应答前随注册表退出，已入队命令不得悬挂
		return reply{}, r.ctx.Err()
	}
}

// getOrCreate 双重检查创建执行体
func (r *Registry) getOrCreate(productID int64) *engine {
	r.mu.RLock()
	e, ok := r.engines[productID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.engines[productID]; ok {
		return e
	}

	e = newEngine(productID, r.deps, r.events)
	r.engines[productID] = e
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.run(r.ctx)
	}()
	return e
}

// Stop 停止全部执行体并关闭事件流
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		close(r.events)
	})
}
