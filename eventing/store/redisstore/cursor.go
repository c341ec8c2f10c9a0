package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"shiji/eventing"
	"shiji/eventing/store"
)

// zsetCursor 聚合事件游标
//
// 按 score（序列号）升序键集分页：首页从 min（含）开始，
// 后续页用 "(score" 排他下界推进，对并发写入保持稳定。
type zsetCursor struct {
	client    client
	key       string
	min       string
	batchSize int

	page   []*eventing.StoredEventEntry
	pos    int
	done   bool
	closed bool
}

func (c *zsetCursor) Next(ctx context.Context) (*eventing.StoredEventEntry, error) {
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

func (c *zsetCursor) fetchPage(ctx context.Context) error {
	members, err := c.client.ZRangeByScore(ctx, c.key, &redis.ZRangeBy{
		Min:   c.min,
		Max:   "+inf",
		Count: int64(c.batchSize),
	}).Result()
	if err != nil {
		return eventing.NewStoreFailedError("fetch aggregate stream page failed", err)
	}

	c.page = c.page[:0]
	c.pos = 0
	for _, member := range members {
		entry, err := decodeEntry(member)
		if err != nil {
			return err
		}
		c.page = append(c.page, entry)
	}

	if len(c.page) < c.batchSize {
		c.done = true
	}
	if len(c.page) > 0 {
		c.min = fmt.Sprintf("(%d", c.page[len(c.page)-1].SequenceNumber)
	}
	return nil
}

func (c *zsetCursor) Close() error {
	c.closed = true
	c.page = nil
	return nil
}

// listCursor 全局列表游标，按写入顺序偏移分页
//
// 全局列表只追加不删除，偏移分页不会漏读；谓词在解码后应用。
type listCursor struct {
	client    client
	key       string
	filter    EntryFilter
	batchSize int

	offset int64
	page   []*eventing.StoredEventEntry
	pos    int
	done   bool
	closed bool
}

func (c *listCursor) Next(ctx context.Context) (*eventing.StoredEventEntry, error) {
	if c.closed {
		return nil, errors.New("cursor is closed")
	}
	for c.pos >= len(c.page) {
		if c.done {
			return nil, nil
		}
		if err := c.fetchPage(ctx); err != nil {
			return nil, err
		}
		if len(c.page) == 0 && c.done {
			return nil, nil
		}
	}
	entry := c.page[c.pos]
	c.pos++
	return entry, nil
}

func (c *listCursor) fetchPage(ctx context.Context) error {
	stop := c.offset + int64(c.batchSize) - 1
	members, err := c.client.LRange(ctx, c.key, c.offset, stop).Result()
	if err != nil {
		return eventing.NewStoreFailedError("fetch global stream page failed", err)
	}
	c.offset += int64(len(members))

	c.page = c.page[:0]
	c.pos = 0
	for _, member := range members {
		entry, err := decodeEntry(member)
		if err != nil {
			return err
		}
		if c.filter != nil && !c.filter(entry) {
			continue
		}
		c.page = append(c.page, entry)
	}

	if len(members) < c.batchSize {
		c.done = true
	}
	return nil
}

func (c *listCursor) Close() error {
	c.closed = true
	c.page = nil
	return nil
}

// 编译期断言
var (
	_ store.IEntryCursor = (*zsetCursor)(nil)
	_ store.IEntryCursor = (*listCursor)(nil)
)
