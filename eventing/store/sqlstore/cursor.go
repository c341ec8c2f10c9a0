package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shiji/eventing"
	"shiji/eventing/serialization"
	"shiji/eventing/store"
	"shiji/storage/database"
)

// aggregateCursor 聚合事件游标
//
// 键集分页：每页一次查询，整页扫描进内存后立即释放结果集，
// 不跨页持有数据库资源。页间推进以上一页最后一个序列号为键，
// 对并发写入保持稳定（只会看到比上次更大的序列号）。
type aggregateCursor struct {
	db           database.IDatabase
	table        string
	aggregateID  string
	nextSequence uint64
	batchSize    int

	page   []*eventing.StoredEventEntry
	pos    int
	done   bool
	closed bool
}

func (c *aggregateCursor) Next(ctx context.Context) (*eventing.StoredEventEntry, error) {
	if c.closed {
		return nil, errors.New("cursor is closed")
	}
	if c.pos >= len(c.page) {
		if c.done {
			return nil, nil
		}
		if err := c.fetchPage(ctx); err != nil {
			return nil, err
		}
		if len(c.page) == 0 {
			return nil, nil
		}
	}
	entry := c.page[c.pos]
	c.pos++
	return entry, nil
}

func (c *aggregateCursor) fetchPage(ctx context.Context) error {
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, sequence_number, timestamp, payload_type, payload_revision, payload, metadata
		FROM %s WHERE aggregate_id = ? AND sequence_number >= ?
		ORDER BY sequence_number ASC LIMIT ?`, c.table)

	rows, err := c.db.Query(ctx, query, c.aggregateID, int64(c.nextSequence), c.batchSize)
	if err != nil {
		return eventing.NewStoreFailedError("fetch aggregate stream page failed", err)
	}
	defer rows.Close()

	c.page = c.page[:0]
	c.pos = 0
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return eventing.NewStoreFailedError("scan event entry failed", err)
		}
		c.page = append(c.page, entry)
	}
	if err := rows.Err(); err != nil {
		return eventing.NewStoreFailedError("iterate event entries failed", err)
	}

	if len(c.page) < c.batchSize {
		c.done = true
	}
	if len(c.page) > 0 {
		c.nextSequence = c.page[len(c.page)-1].SequenceNumber + 1
	}
	return nil
}

func (c *aggregateCursor) Close() error {
	c.closed = true
	c.page = nil
	return nil
}

// globalCursor 跨聚合全局游标，按 global_index 升序键集分页
type globalCursor struct {
	db        database.IDatabase
	table     string
	filter    *Criteria
	batchSize int

	lastIndex int64
	page      []*eventing.StoredEventEntry
	pos       int
	done      bool
	closed    bool
}

func (c *globalCursor) Next(ctx context.Context) (*eventing.StoredEventEntry, error) {
	if c.closed {
		return nil, errors.New("cursor is closed")
	}
	if c.pos >= len(c.page) {
		if c.done {
			return nil, nil
		}
		if err := c.fetchPage(ctx); err != nil {
			return nil, err
		}
		if len(c.page) == 0 {
			return nil, nil
		}
	}
	entry := c.page[c.pos]
	c.pos++
	return entry, nil
}

func (c *globalCursor) fetchPage(ctx context.Context) error {
	where := "global_index > ?"
	args := []any{c.lastIndex}
	if c.filter != nil && c.filter.Where != "" {
		where += " AND (" + c.filter.Where + ")"
		args = append(args, c.filter.Args...)
	}
	args = append(args, c.batchSize)

	query := fmt.Sprintf(`
		SELECT global_index, event_id, aggregate_id, sequence_number, timestamp, payload_type, payload_revision, payload, metadata
		FROM %s WHERE %s
		ORDER BY global_index ASC LIMIT ?`, c.table, where)

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return eventing.NewStoreFailedError("fetch global stream page failed", err)
	}
	defer rows.Close()

	c.page = c.page[:0]
	c.pos = 0
	for rows.Next() {
		var (
			globalIndex     int64
			entry           eventing.StoredEventEntry
			sequence        int64
			timestampNano   int64
			payloadType     string
			payloadRevision int
			payload         string
			metadata        string
		)
		err := rows.Scan(
			&globalIndex,
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
			return eventing.NewStoreFailedError("scan event entry failed", err)
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
		c.page = append(c.page, &entry)
		c.lastIndex = globalIndex
	}
	if err := rows.Err(); err != nil {
		return eventing.NewStoreFailedError("iterate event entries failed", err)
	}

	if len(c.page) < c.batchSize {
		c.done = true
	}
	return nil
}

func (c *globalCursor) Close() error {
	c.closed = true
	c.page = nil
	return nil
}

// 编译期断言
var (
	_ store.IEntryCursor = (*aggregateCursor)(nil)
	_ store.IEntryCursor = (*globalCursor)(nil)
)
