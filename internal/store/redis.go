package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
)

// DefaultRedisPrefix namespaces keys written by RedisStateStore.
const DefaultRedisPrefix = "attachview:"

const (
	fieldSeq     = "seq"
	fieldUpdated = "updated_at"
	refPrefix    = "ref:"

	// page size for ForEachState
	redisScanPage = 256
)

// RedisStateStore keeps one hash per document:
//
//	<prefix>doc:<id>  seq=<n> updated_at=<unix nanos> ref:<filename>=<length> ...
//
// and a sorted set <prefix>docs (all scores 0, so members sort by id).
// The seq field is always written, so a hash with no ref fields is an
// existing state with no attachments.
type RedisStateStore struct {
	rdb    redis.UniversalClient
	prefix string
	closed atomic.Bool
	owned  bool
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore wraps an existing client. The caller keeps ownership of rdb.
func NewRedisStateStore(rdb redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStateStore{rdb: rdb, prefix: prefix}
}

// DialRedisStateStore connects to addr and verifies the connection with PING.
// The returned store closes the client on Close.
func DialRedisStateStore(ctx context.Context, addr string, db int, prefix string) (*RedisStateStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, verrors.StoreError(fmt.Sprintf("connect to redis at %s", addr), err).
			WithSuggestion("check store.redis_addr or set ATTACHVIEW_REDIS_ADDR")
	}
	s := NewRedisStateStore(rdb, prefix)
	s.owned = true
	return s, nil
}

func (s *RedisStateStore) docKey(id string) string {
	return s.prefix + "doc:" + id
}

func (s *RedisStateStore) indexKey() string {
	return s.prefix + "docs"
}

// GetState returns the stored state or nil.
func (s *RedisStateStore) GetState(ctx context.Context, documentID string) (*DocState, error) {
	if s.closed.Load() {
		return nil, errClosed
	}

	fields, err := s.rdb.HGetAll(ctx, s.docKey(documentID)).Result()
	if err != nil && err != redis.Nil {
		return nil, verrors.StoreError("get state "+documentID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRedisState(documentID, fields)
}

func decodeRedisState(documentID string, fields map[string]string) (*DocState, error) {
	st := &DocState{DocumentID: documentID}
	for field, val := range fields {
		switch {
		case field == fieldSeq:
			seq, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, verrors.New(verrors.ErrCodeCorruptState, "bad seq for "+documentID, err)
			}
			st.Seq = seq
		case field == fieldUpdated:
			ns, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, verrors.New(verrors.ErrCodeCorruptState, "bad updated_at for "+documentID, err)
			}
			st.UpdatedAt = time.Unix(0, ns).UTC()
		case strings.HasPrefix(field, refPrefix):
			length, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, verrors.New(verrors.ErrCodeCorruptState, "bad ref length for "+documentID, err)
			}
			st.Refs = append(st.Refs, AttachmentRef{
				Filename:   strings.TrimPrefix(field, refPrefix),
				Length:     length,
				DocumentID: documentID,
			})
		}
	}
	sort.Slice(st.Refs, func(i, j int) bool { return Less(st.Refs[i], st.Refs[j]) })
	return st, nil
}

// PutState replaces the document hash atomically (MULTI/EXEC).
func (s *RedisStateStore) PutState(ctx context.Context, state *DocState) error {
	if state == nil || state.DocumentID == "" {
		return fmt.Errorf("put state: document id is required")
	}
	if s.closed.Load() {
		return errClosed
	}

	key := s.docKey(state.DocumentID)
	values := make([]any, 0, 4+2*len(state.Refs))
	values = append(values,
		fieldSeq, strconv.FormatInt(state.Seq, 10),
		fieldUpdated, strconv.FormatInt(state.UpdatedAt.UnixNano(), 10))
	for _, ref := range state.Refs {
		values = append(values, refPrefix+ref.Filename, strconv.FormatInt(ref.Length, 10))
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: state.DocumentID})

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return verrors.StoreError("put state "+state.DocumentID, err)
	}
	return nil
}

// DeleteState removes the document hash and its index entry.
func (s *RedisStateStore) DeleteState(ctx context.Context, documentID string) (bool, error) {
	if s.closed.Load() {
		return false, errClosed
	}

	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, s.docKey(documentID))
	pipe.ZRem(ctx, s.indexKey(), documentID)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, verrors.StoreError("delete state "+documentID, err)
	}
	return del.Val() > 0, nil
}

// ForEachState visits states in id order. The id list is read up front so
// fn may write back to the store; hashes are fetched in pipelined pages.
func (s *RedisStateStore) ForEachState(ctx context.Context, fn func(*DocState) error) error {
	if s.closed.Load() {
		return errClosed
	}

	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return verrors.StoreError("list states", err)
	}

	for len(ids) > 0 {
		page := ids[:min(redisScanPage, len(ids))]
		ids = ids[len(page):]

		pipe := s.rdb.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(page))
		for i, id := range page {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return verrors.StoreError("load states", err)
		}

		for i, id := range page {
			fields := cmds[i].Val()
			if len(fields) == 0 {
				// removed since the id list was read
				continue
			}
			st, err := decodeRedisState(id, fields)
			if err != nil {
				return err
			}
			if err := fn(st); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the client if the store created it.
func (s *RedisStateStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.owned {
		return s.rdb.Close()
	}
	return nil
}
