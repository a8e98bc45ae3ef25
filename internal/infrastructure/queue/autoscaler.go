package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

// AutoscalerConfig 并发控制器阈值
type AutoscalerConfig struct {
	Interval       time.Duration // 采样间隔
	HighWatermark  int64         // 连续两次高于此深度则扩容
	LowWatermark   int64         // 低于此深度则缩容
	ErrorThreshold float64       // 错误率高于此值时禁止扩容
}

// Autoscaler 周期采样队列深度与错误率，每次一步地调节工作池大小。
// 扩容需要连续两次采样都超过高水位，避免瞬时毛刺；
// 上游密钥全部冷却时扩容只会放大限流，同样禁止。
type Autoscaler struct {
	store  *Store
	pool   *WorkerPool
	db     *gorm.DB
	logger *zap.Logger
	cfg    AutoscalerConfig

	// keysAvailable 报告 LLM 密钥池当前是否有可用密钥
	keysAvailable func() bool

	highStreak int
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewAutoscaler 创建并发控制器
func NewAutoscaler(store *Store, pool *WorkerPool, db *gorm.DB, logger *zap.Logger, cfg AutoscalerConfig, keysAvailable func() bool) *Autoscaler {
	return &Autoscaler{
		store:         store,
		pool:          pool,
		db:            db,
		logger:        logger,
		cfg:           cfg,
		keysAvailable: keysAvailable,
	}
}

// Start 启动采样循环
func (a *Autoscaler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	safego.Go(a.logger, "queue-autoscaler", func() {
		defer close(a.done)
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.sample(ctx)
			}
		}
	})
}

// Stop 停止采样循环
func (a *Autoscaler) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *Autoscaler) sample(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	depth, err := a.store.Depth(sctx)
	if err != nil {
		a.logger.Warn("队列深度采样失败", zap.Error(err))
		return
	}
	errRate := a.pool.ErrorRate()
	workers := a.pool.Size()

	a.record(sctx, depth, workers, errRate)

	if depth > a.cfg.HighWatermark {
		a.highStreak++
	} else {
		a.highStreak = 0
	}

	switch {
	case a.highStreak >= 2 && errRate < a.cfg.ErrorThreshold && a.keysAvailable():
		a.pool.Resize(workers + 1)
		a.highStreak = 0
		a.logger.Info("工作池扩容",
			zap.Int64("depth", depth),
			zap.Int("from", workers),
			zap.Int("to", a.pool.Size()))
	case depth < a.cfg.LowWatermark && workers > 1:
		a.pool.Resize(workers - 1)
		a.logger.Info("工作池缩容",
			zap.Int64("depth", depth),
			zap.Int("from", workers),
			zap.Int("to", a.pool.Size()))
	}
}

// record 落盘一行采样记录，供管理接口查询
func (a *Autoscaler) record(ctx context.Context, depth int64, workers int, errRate float64) {
	metric := models.QueueMetricModel{
		Depth:     depth,
		Workers:   workers,
		ErrorRate: errRate,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&metric).Error; err != nil {
		a.logger.Warn("采样记录落盘失败", zap.Error(err))
	}
}
