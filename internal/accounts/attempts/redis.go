package attempts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one sorted set of failures per IP, scored by unix millis,
// plus an index set of IPs scored by their latest failure.
type Redis struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedis returns a Redis tracker. prefix namespaces every key.
func NewRedis(rdb redis.UniversalClient, prefix string, retention time.Duration) *Redis {
	if prefix == "" {
		prefix = "accounts:attempts"
	}
	return &Redis{rdb: rdb, prefix: prefix, retention: retention}
}

func (r *Redis) ipKey(ip string) string { return r.prefix + ":ip:" + ip }
func (r *Redis) indexKey() string       { return r.prefix + ":ips" }

func (r *Redis) RecordFailure(ctx context.Context, ip, accountID, email string, at time.Time) error {
	score := float64(at.UnixMilli())
	cutoff := strconv.FormatInt(at.Add(-r.retention).UnixMilli(), 10)
	// Members must be unique per attempt; the nanosecond suffix keeps two
	// failures against the same account as separate entries.
	member := target(accountID, email) + "|" + strconv.FormatInt(at.UnixNano(), 36)

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := r.ipKey(ip)
		p.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		p.Expire(ctx, key, r.retention)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: score, Member: ip})
		p.ZRemRangeByScore(ctx, r.indexKey(), "-inf", "("+cutoff)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Stats(ctx context.Context, ip string, since time.Time) (IPStats, error) {
	members, err := r.rdb.ZRangeByScore(ctx, r.ipKey(ip), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return IPStats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if i := strings.LastIndexByte(m, '|'); i >= 0 {
			m = m[:i]
		}
		seen[m] = struct{}{}
	}
	return IPStats{IP: ip, Failures: len(members), DistinctAccounts: len(seen)}, nil
}

func (r *Redis) Sources(ctx context.Context, since time.Time) ([]IPStats, error) {
	ips, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]IPStats, 0, len(ips))
	for _, ip := range ips {
		s, err := r.Stats(ctx, ip, since)
		if err != nil {
			return nil, err
		}
		if s.Failures > 0 {
			out = append(out, s)
		}
	}
	return out, nil
}
