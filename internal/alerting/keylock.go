package alerting

import (
	"context"
	"hash/fnv"
)

const lockShards = 256

// keyLock serializes work per key over a fixed pool of channel mutexes.
// Keys that hash to the same shard share a lock.
type keyLock struct {
	shards [lockShards]chan struct{}
}

func newKeyLock() *keyLock {
	l := &keyLock{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{}
	}
	return l
}

// lock acquires the key's shard or gives up when ctx is done. The returned
// function releases it.
func (l *keyLock) lock(ctx context.Context, key string) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := l.shards[h.Sum32()%lockShards]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
