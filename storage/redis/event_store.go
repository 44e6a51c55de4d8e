package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PaulFidika/authstudio/events"
	"github.com/redis/go-redis/v9"
)

const providerName = "redis"

// EventStore keeps events in Redis. Every event is indexed in sorted sets
// whose members all share score 0, so lexicographic member order is the
// (timestamp, id) order: members are "<20-digit unix micros>:<id>".
type EventStore struct {
	rdb   redis.UniversalClient
	keyNS string
}

func NewEventStore(rdb redis.UniversalClient, keyPrefix string) *EventStore {
	if keyPrefix == "" {
		keyPrefix = "authstudio:events:"
	}
	return &EventStore{rdb: rdb, keyNS: keyPrefix}
}

func (s *EventStore) allKey() string               { return s.keyNS + "all" }
func (s *EventStore) dataKey() string              { return s.keyNS + "data" }
func (s *EventStore) idsKey() string               { return s.keyNS + "ids" }
func (s *EventStore) typeKey(t events.Type) string { return s.keyNS + "type:" + string(t) }
func (s *EventStore) userKey(u string) string      { return s.keyNS + "user:" + u }

func sortKey(e events.AuthEvent) string {
	return fmt.Sprintf("%020d:%s", e.Timestamp.UnixMicro(), e.ID)
}

func (s *EventStore) Ingest(ctx context.Context, e events.AuthEvent) error {
	return s.IngestBatch(ctx, []events.AuthEvent{e})
}

// IngestBatch writes all events in one MULTI/EXEC. Rewriting an event is a
// no-op, so redelivery is safe.
func (s *EventStore) IngestBatch(ctx context.Context, es []events.AuthEvent) error {
	if len(es) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, e := range es {
		b, err := json.Marshal(e)
		if err != nil {
			return events.WrapErr(providerName, "marshal", err)
		}
		k := sortKey(e)
		z := redis.Z{Score: 0, Member: k}
		pipe.HSet(ctx, s.dataKey(), k, b)
		pipe.HSet(ctx, s.idsKey(), e.ID, k)
		pipe.ZAdd(ctx, s.allKey(), z)
		pipe.ZAdd(ctx, s.typeKey(e.Type), z)
		if e.UserID != nil && *e.UserID != "" {
			pipe.ZAdd(ctx, s.userKey(*e.UserID), z)
		}
	}
	_, err := pipe.Exec(ctx)
	return events.WrapErr(providerName, "ingest", err)
}

func (s *EventStore) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	opts = opts.Normalized()
	index := s.allKey()
	typeFilter := opts.Type
	switch {
	case opts.UserID != "":
		index = s.userKey(opts.UserID)
	case opts.Type != "":
		index = s.typeKey(opts.Type)
		typeFilter = ""
	}

	bound := ""
	if opts.After != "" {
		k, err := s.rdb.HGet(ctx, s.idsKey(), opts.After).Result()
		if errors.Is(err, redis.Nil) {
			return events.QueryResult{}, events.ErrCursorNotFound
		}
		if err != nil {
			return events.QueryResult{}, events.WrapErr(providerName, "cursor", err)
		}
		bound = k
	}

	want := opts.Limit + 1
	chunk := int64(want)
	if typeFilter != "" {
		chunk = int64(want * 4)
	}
	out := make([]events.AuthEvent, 0, want)
	for len(out) < want {
		members, err := s.scan(ctx, index, opts.Sort, bound, chunk)
		if err != nil {
			return events.QueryResult{}, events.WrapErr(providerName, "query", err)
		}
		if len(members) == 0 {
			break
		}
		vals, err := s.rdb.HMGet(ctx, s.dataKey(), members...).Result()
		if err != nil {
			return events.QueryResult{}, events.WrapErr(providerName, "query", err)
		}
		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var e events.AuthEvent
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return events.QueryResult{}, events.WrapErr(providerName, "decode", err)
			}
			if typeFilter != "" && e.Type != typeFilter {
				continue
			}
			e.Timestamp = e.Timestamp.UTC()
			out = append(out, e)
			if len(out) == want {
				break
			}
		}
		if int64(len(members)) < chunk {
			break
		}
		bound = members[len(members)-1]
	}
	return events.Page(out, opts.Limit), nil
}

// scan returns up to count members strictly past bound in sort order.
func (s *EventStore) scan(ctx context.Context, key string, sort events.SortOrder, bound string, count int64) ([]string, error) {
	if sort == events.SortAsc {
		lo := "-"
		if bound != "" {
			lo = "(" + bound
		}
		return s.rdb.ZRangeByLex(ctx, key, &redis.ZRangeBy{Min: lo, Max: "+", Count: count}).Result()
	}
	hi := "+"
	if bound != "" {
		hi = "(" + bound
	}
	return s.rdb.ZRevRangeByLex(ctx, key, &redis.ZRangeBy{Min: "-", Max: hi, Count: count}).Result()
}

func (s *EventStore) HealthCheck(ctx context.Context) error {
	return events.WrapErr(providerName, "ping", s.rdb.Ping(ctx).Err())
}
