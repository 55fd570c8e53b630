package sidechannel

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// Drop reasons reported by filter.accept.
const (
	dropOtherRoom = "other room"
	dropSelfEcho  = "self echo"
	dropStale     = "stale"
	dropDuplicate = "duplicate"
)

// filter decides which received envelopes reach subscribers. It remembers
// message fingerprints for one staleness window.
type filter struct {
	window time.Duration

	mu   sync.Mutex
	seen map[uint64]time.Time
}

func newFilter(window time.Duration) *filter {
	return &filter{window: window, seen: make(map[uint64]time.Time)}
}

// accept returns "" when env should be delivered, otherwise the reason it
// was dropped.
func (f *filter) accept(env Envelope, roomID, selfID string, now time.Time) string {
	if env.RoomID != roomID {
		return dropOtherRoom
	}
	if env.SenderID == selfID {
		return dropSelfEcho
	}
	sent := time.UnixMilli(env.TimestampMillis)
	if now.Sub(sent) > f.window || sent.Sub(now) > f.window {
		return dropStale
	}

	key := fingerprint(env)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked(now)
	if _, dup := f.seen[key]; dup {
		return dropDuplicate
	}
	f.seen[key] = now
	return ""
}

func (f *filter) reset() {
	f.mu.Lock()
	f.seen = make(map[uint64]time.Time)
	f.mu.Unlock()
}

func (f *filter) pruneLocked(now time.Time) {
	for k, at := range f.seen {
		if now.Sub(at) > f.window {
			delete(f.seen, k)
		}
	}
}

func fingerprint(env Envelope) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(env.Type))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(env.SenderID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(env.TimestampMillis, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(env.Payload)
	return h.Sum64()
}
