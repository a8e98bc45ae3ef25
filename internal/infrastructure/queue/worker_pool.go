package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

// Handler 处理一个已租约批次。返回 nil 完成；
// 返回可重排队错误（限流 / 过载 / 密钥耗尽）时批次延迟回队不计重试；
// 其他错误消耗一次重试。
type Handler func(ctx context.Context, item *entity.QueueItem) error

const (
	idlePollInterval    = 1 * time.Second
	drainTimeout        = 5 * time.Second
	janitorInterval     = 1 * time.Minute
	defaultRequeueDelay = 30 * time.Second
	outcomeWindowSize   = 50
)

// WorkerPool 从队列租约批次并调用 handler 的弹性工作池。
// 池大小在 [min, max] 内由并发控制器调节。
type WorkerPool struct {
	store       *Store
	logger      *zap.Logger
	handler     Handler
	min, max    int
	terminalTTL time.Duration

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
	wg      sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// 最近 outcomeWindowSize 次处理结果的环形窗口
	outMu    sync.Mutex
	outcomes []bool
	outPos   int
	outFull  bool
}

// NewWorkerPool 创建工作池
func NewWorkerPool(store *Store, logger *zap.Logger, handler Handler, min, max int, terminalTTL time.Duration) *WorkerPool {
	return &WorkerPool{
		store:       store,
		logger:      logger,
		handler:     handler,
		min:         min,
		max:         max,
		terminalTTL: terminalTTL,
		cancels:     make(map[int]context.CancelFunc),
		outcomes:    make([]bool, outcomeWindowSize),
	}
}

// SetHandler 注入批次处理函数。必须在 Start 之前调用；
// 装配期池要先于管线存在（状态工具依赖池），所以不走构造参数。
func (p *WorkerPool) SetHandler(h Handler) {
	p.handler = h
}

// Start 启动 initial 个 worker 和后台清理循环。
// 启动前先回收上个进程遗留的过期租约。
func (p *WorkerPool) Start(ctx context.Context, initial int) error {
	p.rootCtx, p.rootCancel = context.WithCancel(context.Background())

	if _, err := p.store.RecoverStale(ctx); err != nil {
		return err
	}

	p.Resize(initial)

	safego.Go(p.logger, "queue-janitor", func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.rootCtx.Done():
				return
			case <-ticker.C:
				jctx, cancel := context.WithTimeout(p.rootCtx, 30*time.Second)
				if _, err := p.store.RecoverStale(jctx); err != nil {
					p.logger.Warn("租约回收失败", zap.Error(err))
				}
				if _, err := p.store.PurgeTerminal(jctx, p.terminalTTL); err != nil {
					p.logger.Warn("终态清理失败", zap.Error(err))
				}
				cancel()
			}
		}
	})

	return nil
}

// Size 当前 worker 数量
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

// Resize 调整池大小，夹在 [min, max] 之间
func (p *WorkerPool) Resize(target int) {
	if target < p.min {
		target = p.min
	}
	if target > p.max {
		target = p.max
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.cancels) < target {
		id := p.nextID
		p.nextID++

		workerCtx, cancel := context.WithCancel(p.rootCtx)
		p.cancels[id] = cancel
		workerID := fmt.Sprintf("worker-%d", id)

		p.wg.Add(1)
		safego.Go(p.logger, workerID, func() {
			defer p.wg.Done()
			p.run(workerCtx, workerID)
		})
	}

	for id, cancel := range p.cancels {
		if len(p.cancels) <= target {
			break
		}
		cancel()
		delete(p.cancels, id)
	}
}

// Stop 取消全部 worker，最多等待 drainTimeout 让在途批次收尾。
// 未收尾的批次由租约超时回收，不会丢失。
func (p *WorkerPool) Stop() {
	if p.rootCancel != nil {
		p.rootCancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.logger.Warn("工作池排空超时，在途批次留待租约回收")
	}
}

// ErrorRate 最近窗口内的失败比例
func (p *WorkerPool) ErrorRate() float64 {
	p.outMu.Lock()
	defer p.outMu.Unlock()

	n := p.outPos
	if p.outFull {
		n = len(p.outcomes)
	}
	if n == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if !p.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

func (p *WorkerPool) run(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := p.store.Lease(ctx, workerID)
		if err != nil {
			if !domainErrors.IsNotFound(err) {
				p.logger.Error("批次租约出错", zap.String("worker", workerID), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		p.settle(ctx, item, p.handler(ctx, item))
	}
}

// settle 按错误类别落盘批次结果
func (p *WorkerPool) settle(ctx context.Context, item *entity.QueueItem, handleErr error) {
	// settle 在 shutdown 后也要落盘，不复用已取消的 ctx
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if handleErr == nil {
		if err := p.store.Complete(settleCtx, item); err != nil {
			p.logger.Error("批次完成落盘失败", zap.String("item", item.ID), zap.Error(err))
		}
		p.recordOutcome(true)
		return
	}

	if domainErrors.IsRequeueable(handleErr) {
		delay := domainErrors.RetryAfter(handleErr)
		if delay <= 0 {
			delay = defaultRequeueDelay
		}
		p.requeue(settleCtx, item, delay, handleErr)
		return
	}

	p.logger.Warn("批次处理失败",
		zap.String("item", item.ID),
		zap.String("contact", item.ContactPhone),
		zap.Int("retry", item.RetryCount),
		zap.Error(handleErr))
	if err := p.store.Fail(settleCtx, item, handleErr.Error()); err != nil {
		p.logger.Error("批次失败落盘失败", zap.String("item", item.ID), zap.Error(err))
	}
	p.recordOutcome(false)
}

func (p *WorkerPool) requeue(ctx context.Context, item *entity.QueueItem, delay time.Duration, cause error) {
	p.logger.Info("批次延迟回队",
		zap.String("item", item.ID),
		zap.Duration("delay", delay),
		zap.Error(cause))
	if err := p.store.Requeue(ctx, item, time.Now().UTC().Add(delay)); err != nil {
		p.logger.Error("批次回队落盘失败", zap.String("item", item.ID), zap.Error(err))
	}
	// 环境性失败不计入错误率，避免限流期间误判扩缩
}

func (p *WorkerPool) recordOutcome(ok bool) {
	p.outMu.Lock()
	p.outcomes[p.outPos] = ok
	p.outPos++
	if p.outPos == len(p.outcomes) {
		p.outPos = 0
		p.outFull = true
	}
	p.outMu.Unlock()
}
