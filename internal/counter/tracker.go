// Package counter remembers the last uplink frame counter per node and
// decides when configuration must be resent.
//
// A node's frame counter only grows within one boot, so a counter lower than
// the previous one means the node restarted and may have changed its channel
// set.
package counter

import (
	"hash/fnv"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/internal/codec"
)

const DefaultShards = 16

// NodeID is opaque, see envelope.Envelope.NodeID.
type NodeID string

type FrameCounter uint32

type shard struct {
	sync.Mutex
	last map[NodeID]FrameCounter
}

// Tracker is safe for concurrent use. Check-then-update is atomic per node.
// Memory grows by one entry per distinct node.
type Tracker struct {
	shards []shard
}

func NewTracker(shards int) *Tracker {
	if shards <= 0 {
		shards = DefaultShards
	}
	t := &Tracker{shards: make([]shard, shards)}
	for i := range t.shards {
		t.shards[i].last = make(map[NodeID]FrameCounter)
	}
	return t
}

func (self *Tracker) shard(node NodeID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))
	return &self.shards[h.Sum32()%uint32(len(self.shards))]
}

// ShouldEmitConfig returns true for the first counter of a node and for any
// counter strictly lower than the previous one. Always records counter.
func (self *Tracker) ShouldEmitConfig(node NodeID, counter FrameCounter) bool {
	s := self.shard(node)
	s.Lock()
	defer s.Unlock()
	last, seen := s.last[node]
	s.last[node] = counter
	return !seen || counter < last
}

func (self *Tracker) Last(node NodeID) (FrameCounter, bool) {
	s := self.shard(node)
	s.Lock()
	defer s.Unlock()
	c, ok := s.last[node]
	return c, ok
}

func (self *Tracker) Len() int {
	n := 0
	for i := range self.shards {
		s := &self.shards[i]
		s.Lock()
		n += len(s.last)
		s.Unlock()
	}
	return n
}

// MarshalBinary snapshots all shards as one CBOR map.
// Shards are locked one at a time, concurrent updates may land on either side.
func (self *Tracker) MarshalBinary() ([]byte, error) {
	m := make(map[NodeID]FrameCounter)
	for i := range self.shards {
		s := &self.shards[i]
		s.Lock()
		for k, v := range s.last {
			m[k] = v
		}
		s.Unlock()
	}
	b, err := codec.Marshal(m)
	return b, errors.Annotate(err, "tracker marshal")
}

// UnmarshalBinary merges snapshot into current state, existing entries win.
func (self *Tracker) UnmarshalBinary(b []byte) error {
	var m map[NodeID]FrameCounter
	if err := codec.Unmarshal(b, &m); err != nil {
		return errors.Annotate(err, "tracker unmarshal")
	}
	for k, v := range m {
		s := self.shard(k)
		s.Lock()
		if _, ok := s.last[k]; !ok {
			s.last[k] = v
		}
		s.Unlock()
	}
	return nil
}
