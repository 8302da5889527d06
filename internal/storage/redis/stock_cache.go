package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultStockTTL    = 10 * time.Minute

	stockKeyPrefix = "commerce:stock:"
)

// stockEntry — формат значения в кэше.
type stockEntry struct {
	Stock     int64     `json:"stock"`
	IsSoldOut bool      `json:"isSoldOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StockCache хранит последний известный остаток товара в Redis.
// Кэш заполняется из событий синхронизации остатков и используется
// только как подсказка: промах или устаревшее значение не ломают заказ.
type StockCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// Open подключается к Redis и проверяет доступность.
func Open(ctx context.Context, addr string) (*StockCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: defaultDialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return &StockCache{client: client, ttl: defaultStockTTL}, nil
}

// NewStockCache оборачивает существующий клиент (используется в тестах).
func NewStockCache(client *goredis.Client, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = defaultStockTTL
	}
	return &StockCache{client: client, ttl: ttl}
}

// SetStock сохраняет остаток товара с TTL.
func (c *StockCache) SetStock(ctx context.Context, productID string, stock int64, isSoldOut bool) error {
	entry := stockEntry{
		Stock:     stock,
		IsSoldOut: isSoldOut,
		UpdatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal stock entry: %w", err)
	}

	if err := c.client.Set(ctx, stockKeyPrefix+productID, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("set stock for product %s: %w", productID, err)
	}
	return nil
}

// GetStock возвращает закэшированный остаток.
// Отсутствие ключа возвращается как domain.ErrCacheMiss.
func (c *StockCache) GetStock(ctx context.Context, productID string) (int64, bool, error) {
	value, err := c.client.Get(ctx, stockKeyPrefix+productID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return 0, false, domain.ErrCacheMiss
	}
	if err != nil {
		return 0, false, fmt.Errorf("get stock for product %s: %w", productID, err)
	}

	var entry stockEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return 0, false, fmt.Errorf("unmarshal stock entry for product %s: %w", productID, err)
	}
	return entry.Stock, entry.IsSoldOut, nil
}

// Ping проверяет доступность Redis.
func (c *StockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close закрывает подключение.
func (c *StockCache) Close() error {
	return c.client.Close()
}

var _ domain.StockCache = (*StockCache)(nil)
