package llm

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// keyState 单个 API 密钥的轮转状态
type keyState struct {
	key                 string
	availableAt         time.Time // 冷却截止时间
	consecutiveFailures int
	disabled            bool // 凭证被永久拒绝
}

// KeyPool 多密钥轮转池。
// 限流的密钥进入冷却，凭证被拒的密钥永久禁用；
// Next 在可用密钥间轮转，均摊各密钥的配额。
type KeyPool struct {
	mu     sync.Mutex
	keys   []*keyState
	cursor int
	logger *zap.Logger
}

// NewKeyPool 创建密钥池，keys 需非空且已去重
func NewKeyPool(keys []string, logger *zap.Logger) *KeyPool {
	states := make([]*keyState, 0, len(keys))
	for _, k := range keys {
		states = append(states, &keyState{key: k})
	}
	return &KeyPool{keys: states, logger: logger}
}

// Size 密钥总数（含冷却与禁用）
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next 返回下一个可用密钥。全部冷却或禁用时返回 ("", false)。
func (p *KeyPool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.keys); i++ {
		state := p.keys[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.keys)

		if state.disabled || state.availableAt.After(now) {
			continue
		}
		return state.key, true
	}
	return "", false
}

// Cooldown 把密钥置入冷却，累计连续失败次数
func (p *KeyPool) Cooldown(key string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.find(key)
	if state == nil {
		return
	}
	state.availableAt = time.Now().Add(d)
	state.consecutiveFailures++
	p.logger.Debug("密钥进入冷却",
		zap.String("key", redactKey(key)),
		zap.Duration("cooldown", d),
		zap.Int("failures", state.consecutiveFailures))
}

// MarkSuccess 成功调用后清零失败计数
func (p *KeyPool) MarkSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state := p.find(key); state != nil {
		state.consecutiveFailures = 0
	}
}

// Disable 永久禁用被拒绝的密钥
func (p *KeyPool) Disable(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.find(key)
	if state == nil || state.disabled {
		return
	}
	state.disabled = true
	p.logger.Warn("密钥被永久禁用", zap.String("key", redactKey(key)))
}

// Available 当前可用密钥数量
func (p *KeyPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	n := 0
	for _, state := range p.keys {
		if !state.disabled && !state.availableAt.After(now) {
			n++
		}
	}
	return n
}

// Exhausted 是否全部密钥不可用
func (p *KeyPool) Exhausted() bool {
	return p.Available() == 0
}

// EarliestAvailable 最早恢复可用的时间点。
// 有密钥立即可用时返回当前时间；全部永久禁用时返回零值。
func (p *KeyPool) EarliestAvailable() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var earliest time.Time
	for _, state := range p.keys {
		if state.disabled {
			continue
		}
		if !state.availableAt.After(now) {
			return now
		}
		if earliest.IsZero() || state.availableAt.Before(earliest) {
			earliest = state.availableAt
		}
	}
	return earliest
}

func (p *KeyPool) find(key string) *keyState {
	for _, state := range p.keys {
		if state.key == key {
			return state
		}
	}
	return nil
}

// redactKey 日志里只露出密钥尾部
func redactKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return "..." + key[len(key)-6:]
}
