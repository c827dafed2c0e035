// Package enrich - обогащение позиций портфеля справочными данными
// и расчёт изменения за день.
package enrich

import (
	"context"
	"sync"
	"time"

	"portsync/internal/models"
	"portsync/pkg/utils"
)

// RefStore - долговременное хранилище справочников контрактов
//
// Интерфейс выделен явно: кэш работает поверх подменяемого хранилища,
// в тестах вместо Postgres подставляется фейк.
type RefStore interface {
	// GetContractRef возвращает nil, nil если записи нет
	GetContractRef(ctx context.Context, conID int64) (*models.ContractReference, error)
	PutContractRef(ctx context.Context, ref *models.ContractReference) error
}

// Cache - кэш справочников контрактов
//
// Двухуровневый: in-process map поверх долговременного хранилища.
// Справочные атрибуты контракта (industry/category) практически не
// меняются, поэтому запись живёт до конца процесса; долговременный
// уровень переживает рестарты и экономит лимитированные запросы к шлюзу.
type Cache struct {
	store RefStore
	log   *utils.Logger

	mu   sync.RWMutex
	refs map[int64]models.ContractReference
}

// NewCache создаёт кэш поверх хранилища
//
// store == nil допустим: остаётся только in-process уровень.
func NewCache(store RefStore, log *utils.Logger) *Cache {
	return &Cache{
		store: store,
		log:   log.WithComponent("enrich.cache"),
		refs:  make(map[int64]models.ContractReference),
	}
}

// Get ищет справочник контракта: сначала память, затем хранилище
func (c *Cache) Get(ctx context.Context, conID int64) (*models.ContractReference, bool) {
	c.mu.RLock()
	ref, ok := c.refs[conID]
	c.mu.RUnlock()

	if ok {
		CacheLookups.WithLabelValues("memory_hit").Inc()
		out := ref
		return &out, true
	}

	if c.store != nil {
		stored, err := c.store.GetContractRef(ctx, conID)
		if err != nil {
			c.log.Warn("contract ref store lookup failed",
				utils.ConID(conID), utils.Err(err))
		} else if stored != nil {
			c.mu.Lock()
			c.refs[conID] = *stored
			c.mu.Unlock()
			CacheLookups.WithLabelValues("store_hit").Inc()
			return stored, true
		}
	}

	CacheLookups.WithLabelValues("miss").Inc()
	return nil, false
}

// Put сохраняет справочник в оба уровня
//
// Ошибка долговременного уровня не фатальна: память уже обновлена,
// следующий процесс заново спросит шлюз.
func (c *Cache) Put(ctx context.Context, ref *models.ContractReference) {
	if ref == nil || ref.ConID <= 0 {
		return
	}
	if ref.FetchedAt.IsZero() {
		ref.FetchedAt = time.Now()
	}

	c.mu.Lock()
	c.refs[ref.ConID] = *ref
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.PutContractRef(ctx, ref); err != nil {
			c.log.Warn("contract ref store write failed",
				utils.ConID(ref.ConID), utils.Err(err))
		}
	}
}

// Size возвращает количество записей in-process уровня
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.refs)
}
