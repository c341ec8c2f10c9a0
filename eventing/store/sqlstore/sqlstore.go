// Package sqlstore 基于关系数据库的事件条目存储
//
// 事件表与快照表同构：(aggregate_id, sequence_number) 唯一约束承担
// 乐观并发检测，事件表的自增 global_index 提供跨聚合扫描的稳定全局
// 顺序。载荷与元数据以序列化字节落盘，schema 演化由读路径的升级链
// 处理，表结构保持稳定。
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shiji/eventing"
	"shiji/eventing/serialization"
	"shiji/eventing/store"
	"shiji/logging"
	"shiji/storage/database"
	"shiji/storage/database/dialect"
)

const (
	// DefaultEventsTable 默认事件表名
	DefaultEventsTable = "domain_events"

	// DefaultSnapshotsTable 默认快照表名
	DefaultSnapshotsTable = "snapshot_events"
)

// Criteria FetchFiltered 的过滤条件：作用于事件表列的 SQL 条件片段
//
// Where 中可引用 event_id、aggregate_id、sequence_number、timestamp、
// payload_type、payload_revision 等列，占位符统一使用 ?。
type Criteria struct {
	Where string
	Args  []any
}

// Config SQL 事件条目存储配置
type Config struct {
	EventsTable    string
	SnapshotsTable string
	Logger         logging.Logger
}

// SQLEventEntryStore 基于 database.IDatabase 的事件条目存储
type SQLEventEntryStore struct {
	db             database.IDatabase
	dialect        dialect.Dialect
	eventsTable    string
	snapshotsTable string
	logger         logging.Logger
}

// New 创建 SQL 事件条目存储
func New(db database.IDatabase, cfg Config) *SQLEventEntryStore {
	if cfg.EventsTable == "" {
		cfg.EventsTable = DefaultEventsTable
	}
	if cfg.SnapshotsTable == "" {
		cfg.SnapshotsTable = DefaultSnapshotsTable
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("sqlstore")
	}
	return &SQLEventEntryStore{
		db:             db,
		dialect:        dialect.FromDatabase(db),
		eventsTable:    cfg.EventsTable,
		snapshotsTable: cfg.SnapshotsTable,
		logger:         cfg.Logger,
	}
}

// Init 建表（幂等）
func (s *SQLEventEntryStore) Init(ctx context.Context) error {
	for _, table := range []string{s.eventsTable, s.snapshotsTable} {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				global_index %s,
				event_id VARCHAR(255) NOT NULL,
				aggregate_id VARCHAR(255) NOT NULL,
				sequence_number BIGINT NOT NULL,
				timestamp BIGINT NOT NULL,
				payload_type VARCHAR(255) NOT NULL,
				payload_revision INT NOT NULL,
				payload TEXT NOT NULL,
				metadata TEXT NOT NULL,
				UNIQUE (aggregate_id, sequence_number)
			)`, table, s.dialect.AutoIncrementPK())
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return eventing.NewStoreFailedError(fmt.Sprintf("create table %s failed", table), err)
		}
	}
	s.logger.Info(ctx, "event store tables ready",
		logging.String("events_table", s.eventsTable),
		logging.String("snapshots_table", s.snapshotsTable))
	return nil
}

// IsDuplicateKeyError 方言感知的冲突判定器，可直接用作 ConflictClassifier
func (s *SQLEventEntryStore) IsDuplicateKeyError(err error) bool {
	return s.dialect.IsUniqueViolation(err)
}

// PersistEvent 持久化一条事件
func (s *SQLEventEntryStore) PersistEvent(ctx context.Context, entry *eventing.StoredEventEntry) error {
	return s.insertEntry(ctx, s.eventsTable, entry)
}

// PersistSnapshot 持久化一条快照
func (s *SQLEventEntryStore) PersistSnapshot(ctx context.Context, entry *eventing.StoredEventEntry) error {
	return s.insertEntry(ctx, s.snapshotsTable, entry)
}

func (s *SQLEventEntryStore) insertEntry(ctx context.Context, table string, entry *eventing.StoredEventEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (event_id, aggregate_id, sequence_number, timestamp, payload_type, payload_revision, payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
	_, err := s.db.Exec(ctx, query,
		entry.EventID,
		entry.AggregateID,
		int64(entry.SequenceNumber),
		entry.Timestamp.UnixNano(),
		entry.Payload.Type.Name,
		entry.Payload.Type.Revision,
		string(entry.Payload.Data),
		string(entry.Metadata.Data),
	)
	return err
}

// LoadLastSnapshot 加载序列号最大的快照，无快照时返回 (nil, nil)
func (s *SQLEventEntryStore) LoadLastSnapshot(ctx context.Context, aggregateID string) (*eventing.StoredEventEntry, error) {
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, sequence_number, timestamp, payload_type, payload_revision, payload, metadata
		FROM %s WHERE aggregate_id = ?
		ORDER BY sequence_number DESC LIMIT 1`, s.snapshotsTable)

	entry, err := scanEntry(s.db.QueryRow(ctx, query, aggregateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eventing.NewStoreFailedError("load last snapshot failed", err)
	}
	return entry, nil
}

// FetchAggregateStream 打开聚合事件游标，从 firstSequence（含）按序列号升序分批拉取
func (s *SQLEventEntryStore) FetchAggregateStream(ctx context.Context, aggregateID string, firstSequence uint64, batchSize int) (store.IEntryCursor, error) {
	return &aggregateCursor{
		db:           s.db,
		table:        s.eventsTable,
		aggregateID:  aggregateID,
		nextSequence: firstSequence,
		batchSize:    batchSize,
	}, nil
}

// FetchFiltered 打开按 global_index 升序的全局游标
//
// criteria 必须为 nil（全量扫描）或 *Criteria。
func (s *SQLEventEntryStore) FetchFiltered(ctx context.Context, criteria any, batchSize int) (store.IEntryCursor, error) {
	var filter *Criteria
	if criteria != nil {
		c, ok := criteria.(*Criteria)
		if !ok {
			return nil, eventing.NewInvalidEventError("sql store criteria must be a *sqlstore.Criteria", nil)
		}
		filter = c
	}
	return &globalCursor{
		db:        s.db,
		table:     s.eventsTable,
		filter:    filter,
		batchSize: batchSize,
	}, nil
}

// PruneSnapshots 删除该聚合除最近 keep 条之外的全部快照
func (s *SQLEventEntryStore) PruneSnapshots(ctx context.Context, aggregateID string, keep int) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE aggregate_id = ? AND sequence_number NOT IN (
			SELECT sequence_number FROM %s WHERE aggregate_id = ?
			ORDER BY sequence_number DESC LIMIT ?
		)`, s.snapshotsTable, s.snapshotsTable)

	result, err := s.db.Exec(ctx, query, aggregateID, aggregateID, keep)
	if err != nil {
		return eventing.NewStoreFailedError("prune snapshots failed", err)
	}
	if pruned, _ := result.RowsAffected(); pruned > 0 {
		s.logger.Debug(ctx, "snapshots pruned",
			logging.String("aggregate_id", aggregateID),
			logging.Int64("pruned", pruned))
	}
	return nil
}

// scanEntry 从一行查询结果还原存储条目
func scanEntry(row database.IRow) (*eventing.StoredEventEntry, error) {
	var (
		entry           eventing.StoredEventEntry
		sequence        int64
		timestampNano   int64
		payloadType     string
		payloadRevision int
		payload         string
		metadata        string
	)
	err := row.Scan(
		&entry.EventID,
		&entry.AggregateID,
		&sequence,
		&timestampNano,
		&payloadType,
		&payloadRevision,
		&payload,
		&metadata,
	)
	if err != nil {
		return nil, err
	}
	entry.SequenceNumber = uint64(sequence)
	entry.Timestamp = time.Unix(0, timestampNano)
	entry.Payload = serialization.SerializedObject{
		Type: serialization.SerializedType{Name: payloadType, Revision: payloadRevision},
		Data: []byte(payload),
	}
	entry.Metadata = serialization.SerializedObject{
		Type: serialization.SerializedType{Name: serialization.MetadataTypeName, Revision: 1},
		Data: []byte(metadata),
	}
	return &entry, nil
}

// 编译期断言
var _ store.IEventEntryStore = (*SQLEventEntryStore)(nil)
