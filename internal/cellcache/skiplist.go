// Package cellcache implements the in-memory ordered cell store that
// sits in front of every access group's cell-store files: a concurrent
// skiplist keyed by serialized key, holding the writes not yet flushed
// to disk.
//
// Adapted from the teacher's internal/memtable.SkipList: the
// lock-free-read, externally-synchronized-write skiplist shape is kept
// as-is (same randomHeight/findGreaterOrEqual structure), but node
// values are stored alongside the key directly instead of packed into
// one entry blob with an internal-key trailer — this format's
// ordering already lives entirely in the serialized key (see package
// key), so there is no sequence-number suffix to splice in or out.
package cellcache

import (
	"math/rand"
	"sync/atomic"

	"github.com/hypertable-go/rangestore/internal/key"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

type skipNode struct {
	k    []byte
	v    []byte
	next []*atomic.Pointer[skipNode]
}

func newSkipNode(k, v []byte, height int) *skipNode {
	n := &skipNode{k: k, v: v, next: make([]*atomic.Pointer[skipNode], height)}
	for i := range n.next {
		n.next[i] = &atomic.Pointer[skipNode]{}
	}
	return n
}

func (n *skipNode) getNext(level int) *skipNode    { return n.next[level].Load() }
func (n *skipNode) setNext(level int, v *skipNode) { n.next[level].Store(v) }

// skipList is a lock-free-for-reads skiplist ordered by key.Compare.
// Writes require external synchronization, provided by Cache's mutex.
type skipList struct {
	head      *skipNode
	maxHeight int32
	rng       *rand.Rand
	count     int64
}

func newSkipList() *skipList {
	return &skipList{
		head:      newSkipNode(nil, nil, maxHeight),
		maxHeight: 1,
		rng:       rand.New(rand.NewSource(0xC377CAC4E)),
	}
}

// insert adds or replaces the entry for k. Per the cell-cache ordering
// invariant, a second insert of an already-present key replaces its
// value rather than coexisting alongside it.
func (sl *skipList) insert(k, v []byte) {
	prev := make([]*skipNode, maxHeight)
	x := sl.findGreaterOrEqual(k, prev)
	if x != nil && key.Compare(key.Serialized(x.k), key.Serialized(k)) == 0 {
		x.v = v
		return
	}

	height := sl.randomHeight()
	maxH := int(atomic.LoadInt32(&sl.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	node := newSkipNode(k, v, height)
	for i := 0; i < height; i++ {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	atomic.AddInt64(&sl.count, 1)
}

func (sl *skipList) get(k []byte) (*skipNode, bool) {
	x := sl.findGreaterOrEqual(k, nil)
	if x != nil && key.Compare(key.Serialized(x.k), key.Serialized(k)) == 0 {
		return x, true
	}
	return nil, false
}

func (sl *skipList) len() int64 { return atomic.LoadInt64(&sl.count) }

func (sl *skipList) findGreaterOrEqual(k []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1
	for {
		next := x.getNext(level)
		if next != nil && key.Compare(key.Serialized(next.k), key.Serialized(k)) < 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (sl *skipList) randomHeight() int {
	height := 1
	for height < maxHeight && sl.rng.Intn(branchingFactor) == 0 {
		height++
	}
	return height
}

// skipIterator walks the skiplist from head to tail.
type skipIterator struct {
	node *skipNode
	head *skipNode
}

func (sl *skipList) newIterator() *skipIterator {
	return &skipIterator{head: sl.head}
}

func (it *skipIterator) seekToFirst() { it.node = it.head.getNext(0) }
func (it *skipIterator) valid() bool  { return it.node != nil }
func (it *skipIterator) next()        { it.node = it.node.getNext(0) }
func (it *skipIterator) key() []byte  { return it.node.k }
func (it *skipIterator) value() []byte { return it.node.v }
