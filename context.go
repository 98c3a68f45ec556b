package udpconn

import (
	"container/heap"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilotproto/udpconn/config"
	"github.com/pilotproto/udpconn/ratelimit"
)

// SocketsContext is the single-threaded cooperative service shared by
// every Listener and Connection created from it, mirroring the donor
// daemon's one-goroutine-does-everything model (pkg/daemon/daemon.go)
// instead of a goroutine-per-connection design. TransportLock is held
// while a Listener dispatches an unrouted packet, including the accept
// and new-connection callbacks it makes from there; packets the socket
// routes straight to a Connection, and think calls made by RunThinks,
// run without it.
type SocketsContext struct {
	TransportLock sync.Mutex

	cfg config.Config

	recentCIDs     [config.MaxRecentLocalConnectionIDs]uint32
	recentCIDNext  int
	recentCIDCount int

	badPacketLog *ratelimit.Reporter

	thinkMu    sync.Mutex
	thinkHeap  thinkHeap
	thinkIndex map[thinkable]*thinkEntry
}

// NewSocketsContext builds a context ready to mint Listeners and
// Connections under cfg.
func NewSocketsContext(cfg config.Config) *SocketsContext {
	return &SocketsContext{
		cfg:          cfg,
		badPacketLog: ratelimit.NewReporter(rate.Limit(1.0 / cfg.BadPacketLogInterval.Seconds())),
		thinkIndex:   make(map[thinkable]*thinkEntry),
	}
}

// Config returns the context's configuration.
func (c *SocketsContext) Config() config.Config { return c.cfg }

// AllowBadPacketLog reports whether the caller may emit its "bad
// packet" diagnostic line right now (spec §4.3: at most one globally
// per BadPacketLogInterval).
func (c *SocketsContext) AllowBadPacketLog() bool {
	return c.badPacketLog.Allow()
}

// newLocalConnectionID mints a random 32-bit id whose low 16 bits are
// nonzero (the form Dial requires of a server connection id) and that is not
// currently present in the recent-ids ring, then records it in the
// ring. This is the actual collision check spec §4.4.5 requires
// ("must not reissue a connection id that's still fresh") — earlier
// sketches of this type left the ring unread; here newLocalConnectionID
// linear-scans it before accepting a candidate.
//
// Callers that do not already hold TransportLock (Dial, which has no
// reason to take it before a connection object exists) must use this
// entry point; callers that dispatch under TransportLock already
// (Listener.OnPacket and friends) must use newLocalConnectionIDLocked
// instead — TransportLock is a plain sync.Mutex and is not reentrant.
func (c *SocketsContext) newLocalConnectionID() ConnectionID {
	c.TransportLock.Lock()
	defer c.TransportLock.Unlock()
	return c.newLocalConnectionIDLocked()
}

// newLocalConnectionIDLocked is newLocalConnectionID for a caller that
// already holds TransportLock.
func (c *SocketsContext) newLocalConnectionIDLocked() ConnectionID {
	for {
		candidate := randomUint32()
		if !ConnectionID(candidate).Low16NonZero() {
			continue
		}
		if c.recentIDInUseLocked(candidate) {
			continue
		}
		c.recentCIDs[c.recentCIDNext] = candidate
		c.recentCIDNext = (c.recentCIDNext + 1) % len(c.recentCIDs)
		if c.recentCIDCount < len(c.recentCIDs) {
			c.recentCIDCount++
		}
		return ConnectionID(candidate)
	}
}

func (c *SocketsContext) recentIDInUseLocked(candidate uint32) bool {
	for i := 0; i < c.recentCIDCount; i++ {
		if c.recentCIDs[i] == candidate {
			return true
		}
	}
	return false
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is catastrophic for the host; fall back to
		// a time-derived value rather than panicking mid-handshake.
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(b[:])
}

// thinkable is anything with a periodic upkeep step driven by the
// context's think-deadline scheduler (Connections and Listeners both
// qualify).
type thinkable interface {
	think(now time.Time) time.Time // returns the next desired think time
}

type thinkEntry struct {
	who      thinkable
	deadline time.Time
	index    int // maintained by thinkHeap.Swap for O(log n) reschedule
}

type thinkHeap []*thinkEntry

func (h thinkHeap) Len() int           { return len(h) }
func (h thinkHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h thinkHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *thinkHeap) Push(x interface{}) {
	entry := x.(*thinkEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *thinkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ScheduleThink registers who to have its think method called by the
// first RunThinks at or after deadline. Calling it again before the
// deadline fires reschedules rather than duplicates.
func (c *SocketsContext) ScheduleThink(who thinkable, deadline time.Time) {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()

	if entry, ok := c.thinkIndex[who]; ok {
		entry.deadline = deadline
		heap.Fix(&c.thinkHeap, entry.index)
		return
	}
	entry := &thinkEntry{who: who, deadline: deadline}
	heap.Push(&c.thinkHeap, entry)
	c.thinkIndex[who] = entry
}

// RunThinks pops and runs every thinkable whose deadline is at or
// before now, rescheduling each by its returned next deadline. It
// returns the duration the caller should sleep before calling again.
func (c *SocketsContext) RunThinks(now time.Time) time.Duration {
	for {
		c.thinkMu.Lock()
		if len(c.thinkHeap) == 0 {
			c.thinkMu.Unlock()
			return time.Second
		}
		next := c.thinkHeap[0]
		if next.deadline.After(now) {
			wait := next.deadline.Sub(now)
			c.thinkMu.Unlock()
			return wait
		}
		heap.Pop(&c.thinkHeap)
		delete(c.thinkIndex, next.who)
		c.thinkMu.Unlock()

		nextDeadline := next.who.think(now)

		c.TransportLock.Lock()
		c.ScheduleThink(next.who, nextDeadline)
		c.TransportLock.Unlock()
	}
}
