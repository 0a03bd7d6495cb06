package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

const actorKeyPrefix = "carf:actor:"

// CachedDirectory fronts a directory client with a redis read-through
// cache. Redis failures fall through to the backing directory.
type CachedDirectory struct {
	next  DirectoryClientInterface
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

type cachedActor struct {
	Identity                  string `json:"identity"`
	DisplayName               string `json:"display_name"`
	Company                   string `json:"company"`
	IsDesignatedApprover      bool   `json:"is_designated_approver"`
	IsComplianceFinalApprover bool   `json:"is_compliance_final_approver"`
}

// NewCachedDirectory wraps next. A nil redis client disables caching.
func NewCachedDirectory(next DirectoryClientInterface, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, redis: rdb, ttl: ttl, log: log}
}

// GetActor returns the cached actor or resolves and caches it.
func (d *CachedDirectory) GetActor(ctx context.Context, identity string) (workflow.Actor, error) {
	if d.redis == nil {
		return d.next.GetActor(ctx, identity)
	}

	key := actorKeyPrefix + strings.ToLower(identity)
	raw, err := d.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ca cachedActor
		if jsonErr := json.Unmarshal(raw, &ca); jsonErr == nil {
			return workflow.Actor(ca), nil
		}
		d.log.Warn().Str("identity", identity).Msg("discarding malformed cached actor")
	case err != redis.Nil:
		d.log.Warn().Err(err).Str("identity", identity).Msg("actor cache read failed (non-fatal)")
	}

	actor, err := d.next.GetActor(ctx, identity)
	if err != nil {
		return workflow.Actor{}, err
	}

	data, err := json.Marshal(cachedActor(actor))
	if err == nil {
		if err := d.redis.Set(ctx, key, data, d.ttl).Err(); err != nil {
			d.log.Warn().Err(err).Str("identity", identity).Msg("actor cache write failed (non-fatal)")
		}
	}
	return actor, nil
}
