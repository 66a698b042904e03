package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	ds "github.com/ipfs/go-datastore"
)

const (
	metaSuffix = ":meta"
	blobSuffix = ":blob"
	scanCount  = 100
)

// Redis is a Storage adapter backed by github.com/go-redis/redis/v8, keyed
// through github.com/ipfs/go-datastore's Key type. Grounded on
// crdtserver/redis_datastore.go's RedisDatastore (Put/Get/Has/Delete over a
// *redis.Client guarded by a mutex only for option bookkeeping), rewritten
// to store the meta/blob pair the persistence contract requires instead of
// a single opaque value. The adapter has no options of its own: keys never
// expire, and all connection settings come from the supplied client.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed adapter over an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func dsKey(id, suffix string) string {
	return ds.NewKey(id + suffix).String()
}

func (r *Redis) Store(ctx context.Context, id string, meta, blob []byte) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, dsKey(id, metaSuffix), meta, 0)
	pipe.Set(ctx, dsKey(id, blobSuffix), blob, 0)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return &Error{Kind: ErrConnection, Message: fmt.Sprintf("redis store %s: %v", id, err)}
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, id string) ([]byte, []byte, error) {
	meta, err := r.client.Get(ctx, dsKey(id, metaSuffix)).Bytes()
	if err == redis.Nil {
		return nil, nil, notFound(id)
	}
	if err != nil {
		return nil, nil, &Error{Kind: ErrConnection, Message: err.Error()}
	}
	blob, err := r.client.Get(ctx, dsKey(id, blobSuffix)).Bytes()
	if err == redis.Nil {
		return nil, nil, notFound(id)
	}
	if err != nil {
		return nil, nil, &Error{Kind: ErrConnection, Message: err.Error()}
	}
	return meta, blob, nil
}

func (r *Redis) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, dsKey(id, metaSuffix), dsKey(id, blobSuffix)).Result()
	if err != nil {
		return false, &Error{Kind: ErrConnection, Message: err.Error()}
	}
	return n > 0, nil
}

func (r *Redis) List(ctx context.Context, pattern string) ([]string, error) {
	scanPattern := "*" + metaSuffix
	var ids []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, scanPattern, scanCount).Result()
		if err != nil {
			return nil, &Error{Kind: ErrConnection, Message: err.Error()}
		}
		for _, k := range keys {
			id := k[:len(k)-len(metaSuffix)]
			if matchGlob(pattern, id) {
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

func (r *Redis) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, dsKey(id, metaSuffix)).Result()
	if err != nil {
		return false, &Error{Kind: ErrConnection, Message: err.Error()}
	}
	return n > 0, nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	ids, err := r.List(ctx, "*")
	if err != nil {
		return Stats{}, err
	}
	var total int64
	for _, id := range ids {
		size, err := r.client.StrLen(ctx, dsKey(id, blobSuffix)).Result()
		if err != nil && err != redis.Nil {
			continue
		}
		total += size
	}
	return Stats{DocumentCount: len(ids), TotalSizeBytes: total}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
