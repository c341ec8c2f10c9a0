// Package redisstore 基于 Redis 的事件条目存储
//
// 数据模型：
//   - 每个聚合一个事件 ZSET（score = 序列号，member = 条目 JSON）
//   - 每个聚合一个快照 ZSET（同构）
//   - 一个全局 LIST 按写入顺序记录全部事件，支撑跨聚合扫描
//
// 序列号唯一性由 Lua 脚本保证：同一脚本内检查占用并写入，
// 并发写入同一 (聚合, 序列号) 最多一个成功。
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"shiji/eventing"
	"shiji/eventing/store"
	"shiji/logging"
)

// ErrDuplicateSequence 序列号已被占用
var ErrDuplicateSequence = errors.New("redisstore: aggregate_id and sequence_number already exist")

// IsDuplicateSequence Redis 存储的冲突判定器
func IsDuplicateSequence(err error) bool {
	return errors.Is(err, ErrDuplicateSequence)
}

// EntryFilter FetchFiltered 的过滤条件（客户端侧谓词）
//
// Redis 不提供服务端的条目内容过滤，谓词在扫描侧逐条应用。
type EntryFilter func(entry *eventing.StoredEventEntry) bool

// client 约束本存储依赖的 go-redis 命令子集（便于测试替身）
type client interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

// 事件写入：占用检查 + ZADD + 追加全局列表，单脚本原子执行
const appendEventScript = `
if redis.call('ZCOUNT', KEYS[1], ARGV[1], ARGV[1]) > 0 then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`

// 快照写入：快照不进全局列表
const appendSnapshotScript = `
if redis.call('ZCOUNT', KEYS[1], ARGV[1], ARGV[1]) > 0 then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
return 1
`

// Config Redis 事件条目存储配置
type Config struct {
	// Client 注入的 redis 客户端；为 nil 时用 Addr/Password/DB 自建
	Client redis.UniversalClient

	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix 所有键的公共前缀，默认 "es:"
	KeyPrefix string

	Logger logging.Logger
}

// RedisEventEntryStore 基于 Redis 的事件条目存储
type RedisEventEntryStore struct {
	client    client
	ownClient bool
	keyPrefix string
	logger    logging.Logger
}

// New 创建 Redis 事件条目存储
func New(cfg Config) (*RedisEventEntryStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "es:"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("redisstore")
	}

	var cl client
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis client not configured")
		}
		cl = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		own = true
	}

	return &RedisEventEntryStore{
		client:    cl,
		ownClient: own,
		keyPrefix: cfg.KeyPrefix,
		logger:    cfg.Logger,
	}, nil
}

// Close 关闭自建的 redis 客户端；注入的客户端由调用方管理
func (s *RedisEventEntryStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisEventEntryStore) eventsKey(aggregateID string) string {
	return s.keyPrefix + "events:" + aggregateID
}

func (s *RedisEventEntryStore) snapshotsKey(aggregateID string) string {
	return s.keyPrefix + "snapshots:" + aggregateID
}

func (s *RedisEventEntryStore) globalKey() string {
	return s.keyPrefix + "events:global"
}

// PersistEvent 持久化一条事件
func (s *RedisEventEntryStore) PersistEvent(ctx context.Context, entry *eventing.StoredEventEntry) error {
	member, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	keys := []string{s.eventsKey(entry.AggregateID), s.globalKey()}
	return s.runAppendScript(ctx, appendEventScript, keys, entry, member)
}

// PersistSnapshot 持久化一条快照
func (s *RedisEventEntryStore) PersistSnapshot(ctx context.Context, entry *eventing.StoredEventEntry) error {
	member, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	keys := []string{s.snapshotsKey(entry.AggregateID)}
	return s.runAppendScript(ctx, appendSnapshotScript, keys, entry, member)
}

func (s *RedisEventEntryStore) runAppendScript(ctx context.Context, script string, keys []string, entry *eventing.StoredEventEntry, member string) error {
	result, err := s.client.Eval(ctx, script, keys, entry.SequenceNumber, member).Result()
	if err != nil {
		return eventing.NewStoreFailedError("redis append failed", err)
	}
	if ok, _ := result.(int64); ok != 1 {
		return ErrDuplicateSequence
	}
	return nil
}

// LoadLastSnapshot 加载 score 最大的快照，无快照时返回 (nil, nil)
func (s *RedisEventEntryStore) LoadLastSnapshot(ctx context.Context, aggregateID string) (*eventing.StoredEventEntry, error) {
	members, err := s.client.ZRevRange(ctx, s.snapshotsKey(aggregateID), 0, 0).Result()
	if err != nil {
		return nil, eventing.NewStoreFailedError("load last snapshot failed", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return decodeEntry(members[0])
}

// FetchAggregateStream 打开聚合事件游标，按 score（序列号）升序分批拉取
func (s *RedisEventEntryStore) FetchAggregateStream(ctx context.Context, aggregateID string, firstSequence uint64, batchSize int) (store.IEntryCursor, error) {
	return &zsetCursor{
		client:    s.client,
		key:       s.eventsKey(aggregateID),
		min:       fmt.Sprintf("%d", firstSequence),
		batchSize: batchSize,
	}, nil
}

// FetchFiltered 打开全局列表游标（写入顺序）
//
// criteria 必须为 nil（全量扫描）或 EntryFilter。
func (s *RedisEventEntryStore) FetchFiltered(ctx context.Context, criteria any, batchSize int) (store.IEntryCursor, error) {
	var filter EntryFilter
	if criteria != nil {
		f, ok := criteria.(EntryFilter)
		if !ok {
			return nil, eventing.NewInvalidEventError("redis store criteria must be an EntryFilter", nil)
		}
		filter = f
	}
	return &listCursor{
		client:    s.client,
		key:       s.globalKey(),
		filter:    filter,
		batchSize: batchSize,
	}, nil
}

// PruneSnapshots 删除该聚合除 score 最大的 keep 条之外的全部快照
func (s *RedisEventEntryStore) PruneSnapshots(ctx context.Context, aggregateID string, keep int) error {
	pruned, err := s.client.ZRemRangeByRank(ctx, s.snapshotsKey(aggregateID), 0, int64(-(keep + 1))).Result()
	if err != nil {
		return eventing.NewStoreFailedError("prune snapshots failed", err)
	}
	if pruned > 0 {
		s.logger.Debug(ctx, "snapshots pruned",
			logging.String("aggregate_id", aggregateID),
			logging.Int64("pruned", pruned))
	}
	return nil
}

// 编译期断言
var _ store.IEventEntryStore = (*RedisEventEntryStore)(nil)
