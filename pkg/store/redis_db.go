package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fieldsync/internal/util"
	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 16

// RedisDB implements DB on Redis. Each document is a JSON string key and each
// parent keeps a set of its child keys.
type RedisDB struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisDB connects a store to Redis at addr.
func NewRedisDB(addr, password, prefix string) (*RedisDB, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("store redis addr is required")
	}
	return NewRedisDBWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix), nil
}

// NewRedisDBWithClient wraps an existing client.
func NewRedisDBWithClient(client *redis.Client, prefix string) *RedisDB {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "fieldsync:db"
	}
	return &RedisDB{
		client:  client,
		prefix:  prefix,
		timeout: 3 * time.Second,
		now:     time.Now,
	}
}

// Client exposes the underlying connection for components sharing it.
func (d *RedisDB) Client() *redis.Client {
	return d.client
}

func (d *RedisDB) Get(ctx context.Context, path string, out any) (bool, error) {
	path, err := CleanPath(path)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	raw, err := d.client.Get(ctx, d.nodeKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (d *RedisDB) Set(ctx context.Context, path string, value any) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, d.nodeKey(path), raw, 0)
		d.indexAncestors(ctx, pipe, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (d *RedisDB) Create(ctx context.Context, path string, value any) (bool, error) {
	path, err := CleanPath(path)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	var created *redis.BoolCmd
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, d.nodeKey(path), raw, 0)
		d.indexAncestors(ctx, pipe, path)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	return created.Val(), nil
}

func (d *RedisDB) Update(ctx context.Context, path string, fields map[string]any) (bool, error) {
	return d.Transform(ctx, path, func(doc map[string]any) error {
		for k, v := range fields {
			if v == nil {
				delete(doc, k)
				continue
			}
			doc[k] = v
		}
		return nil
	})
}

func (d *RedisDB) Transform(ctx context.Context, path string, fn func(doc map[string]any) error) (bool, error) {
	path, err := CleanPath(path)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	key := d.nodeKey(path)
	found := false
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		doc := map[string]any{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = d.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("update %s: %w", path, err)
		}
		return found, nil
	}
	return false, fmt.Errorf("update %s: %w", path, redis.TxFailedErr)
}

func (d *RedisDB) Delete(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	parent, key := splitParent(path)
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.nodeKey(path))
		if parent != "" {
			pipe.SRem(ctx, d.kidsKey(parent), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (d *RedisDB) Keys(ctx context.Context, path string) ([]string, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	keys, err := d.client.SMembers(ctx, d.kidsKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", path, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *RedisDB) Children(ctx context.Context, path string) ([]Child, error) {
	keys, err := d.Keys(ctx, path)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	path, _ = CleanPath(path)
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	nodeKeys := make([]string, len(keys))
	for i, k := range keys {
		nodeKeys[i] = d.nodeKey(path + "/" + k)
	}
	values, err := d.client.MGet(ctx, nodeKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	out := make([]Child, 0, len(keys))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Intermediate paths have children but no document of their own.
			if n, _ := d.client.Exists(ctx, d.kidsKey(path+"/"+keys[i])).Result(); n == 0 {
				stale = append(stale, keys[i])
			}
			continue
		}
		out = append(out, Child{Key: keys[i], Value: json.RawMessage(s)})
	}
	if len(stale) > 0 {
		_ = d.client.SRem(ctx, d.kidsKey(path), stale...).Err()
	}
	return out, nil
}

func (d *RedisDB) Push(ctx context.Context, parent string, value any) (string, error) {
	parent, err := CleanPath(parent)
	if err != nil {
		return "", err
	}
	id := util.NewPushID(d.now())
	if err := d.Set(ctx, parent+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// indexAncestors records path in its parent's child set and every ancestor in
// its own parent's set, so intermediate levels can be listed too.
func (d *RedisDB) indexAncestors(ctx context.Context, pipe redis.Pipeliner, path string) {
	for {
		parent, key := splitParent(path)
		if parent == "" {
			return
		}
		pipe.SAdd(ctx, d.kidsKey(parent), key)
		path = parent
	}
}

func (d *RedisDB) nodeKey(path string) string {
	return d.prefix + ":node:" + path
}

func (d *RedisDB) kidsKey(path string) string {
	return d.prefix + ":kids:" + path
}
