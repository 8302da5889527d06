package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type txKey struct{}

// memTx собирает отложенные разблокировки строк, взятых внутри
// транзакции; они снимаются после завершения fn.
type memTx struct {
	mu      sync.Mutex
	unlocks []func()
}

func (t *memTx) deferUnlock(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unlocks = append(t.unlocks, fn)
}

func (t *memTx) release() {
	t.mu.Lock()
	unlocks := t.unlocks
	t.unlocks = nil
	t.mu.Unlock()

	for i := len(unlocks) - 1; i >= 0; i-- {
		unlocks[i]()
	}
}

// TxRunner — in-memory аналог транзакций. Настоящего rollback здесь нет:
// WithinTx лишь удерживает блокировки строк до конца fn, воспроизводя
// поведение FOR UPDATE. Используется в разработке и тестах.
type TxRunner struct{}

// NewTxRunner создаёт in-memory TxRunner.
func NewTxRunner() *TxRunner {
	return &TxRunner{}
}

// WithinTx исполняет fn; вложенный вызов присоединяется к транзакции из ctx.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{}
	defer tx.release()
	return fn(context.WithValue(ctx, txKey{}, tx))
}

func txFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey{}).(*memTx)
	return tx
}

var _ domain.TxRunner = (*TxRunner)(nil)
