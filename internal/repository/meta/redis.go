package meta

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/util"
	"github.com/redis/go-redis/v9"
)

const (
	KeyPrefix    = "modsync"
	KeyRepoMeta  = "rm" // HASH. rm:{sha1(zip_url)} signature: ..., updatedAt: ...
	KeySeparator = ":"

	fieldSignature = "signature"
	fieldUpdatedAt = "updatedAt"
)

type redisMetaRepository struct {
	cl  *redis.Client
	key string
	log *slog.Logger
}

// NewRedisMetaRepository keys the meta by archive URL so several launchers
// sharing one redis keep separate records.
func NewRedisMetaRepository(cl *redis.Client, zipURL string, log *slog.Logger) *redisMetaRepository {
	return &redisMetaRepository{
		cl:  cl,
		key: getKey(KeyPrefix, KeyRepoMeta, util.GetIDFromString(&zipURL)),
		log: log.With(slog.String("item", "RedisMetaRepository")),
	}
}

func (r *redisMetaRepository) Load(ctx context.Context) (*entity.RepoMeta, error) {
	values, err := r.cl.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot get repo meta: %w", common.ErrNetwork, err)
	}

	if len(values) < 1 {
		return nil, nil
	}

	meta := &entity.RepoMeta{Signature: values[fieldSignature]}
	if v, ok := values[fieldUpdatedAt]; ok {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.log.Error("Cannot parse updatedAt", slog.String("key", r.key), slog.Any("error", err))
		} else {
			meta.UpdatedAt = ts
		}
	}

	return meta, nil
}

func (r *redisMetaRepository) Save(ctx context.Context, meta *entity.RepoMeta) error {
	pipe := r.cl.TxPipeline()
	pipe.Del(ctx, r.key)
	pipe.HSet(ctx, r.key, fieldSignature, meta.Signature, fieldUpdatedAt, strconv.FormatInt(meta.UpdatedAt, 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: cannot save repo meta: %w", common.ErrNetwork, err)
	}

	return nil
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
