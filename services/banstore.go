package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yourusername/ember/models"
)

const (
	banCachePrefix  = "security:ban:"
	banOptionPrefix = "security_ban_"
)

// BanStore dual-writes ban records to the expiring cache and the
// durable options registry. The durable copy is authoritative: a cache
// eviction or restart never lifts a ban. On a cache miss the durable
// record is consulted and, when still valid, re-seeds the cache with
// the *remaining* lifetime — never the full duration, so fallback reads
// cannot extend a ban. Stale durable records are deleted as part of the
// read.
type BanStore struct {
	cache   Store
	options models.OptionsRepositoryInterface

	now func() time.Time
}

func NewBanStore(cache Store, options models.OptionsRepositoryInterface) *BanStore {
	return &BanStore{cache: cache, options: options, now: time.Now}
}

func banOptionName(ip string) string {
	return banOptionPrefix + ip
}

func (b *BanStore) Put(ctx context.Context, ban models.BanRecord) error {
	data, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	// Durable first; the cache is only an accelerator
	if err := b.options.Set(banOptionName(ban.IP), data); err != nil {
		return err
	}
	remaining := ban.Remaining(b.now())
	if remaining > 0 {
		_ = b.cache.Set(ctx, banCachePrefix+ban.IP, string(data), remaining)
	}
	return nil
}

// Get returns the active ban for ip, or nil. A cache hit that turned
// stale is deleted and the durable tier consulted; a valid durable
// record repairs the cache.
func (b *BanStore) Get(ctx context.Context, ip string) (*models.BanRecord, error) {
	now := b.now()

	raw, found, cacheErr := b.cache.Get(ctx, banCachePrefix+ip)
	if cacheErr == nil && found {
		var ban models.BanRecord
		if err := json.Unmarshal([]byte(raw), &ban); err == nil {
			if ban.Active(now) {
				return &ban, nil
			}
			_ = b.cache.Delete(ctx, banCachePrefix+ip)
		}
	}

	value, err := b.options.Get(banOptionName(ip))
	if err != nil {
		// Nothing confirmed this request: fail open rather than guess
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	var ban models.BanRecord
	if err := json.Unmarshal(value, &ban); err != nil {
		_ = b.options.Delete(banOptionName(ip))
		return nil, nil
	}
	if !ban.Active(now) {
		// Self-healing cleanup: durable rows do not expire on their own
		_ = b.options.Delete(banOptionName(ip))
		return nil, nil
	}

	_ = b.cache.Set(ctx, banCachePrefix+ip, string(value), ban.Remaining(now))
	return &ban, nil
}

func (b *BanStore) Remove(ctx context.Context, ip string) error {
	_ = b.cache.Delete(ctx, banCachePrefix+ip)
	return b.options.Delete(banOptionName(ip))
}

// ActiveBans lists every ban still in effect, from the durable tier.
func (b *BanStore) ActiveBans() ([]models.BanRecord, error) {
	rows, err := b.options.ListPrefix(banOptionPrefix)
	if err != nil {
		return nil, err
	}
	now := b.now()
	bans := make([]models.BanRecord, 0, len(rows))
	for _, value := range rows {
		var ban models.BanRecord
		if err := json.Unmarshal(value, &ban); err != nil {
			continue
		}
		if ban.Active(now) {
			bans = append(bans, ban)
		}
	}
	return bans, nil
}
