package oifits

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"
)

// IndexMask is an immutable set of accepted indices (rows or channels) out
// of Len() addressable positions.
//
// Masks are interned: building the same set twice returns the same
// pointer, so callers may compare masks by identity or with Equal.
type IndexMask struct {
	bits *roaring.Bitmap
	size int
}

// NewIndexMask returns the mask of size positions accepting indices.
// Out-of-range indices are ignored.
func NewIndexMask(size int, indices ...int) *IndexMask {
	bm := roaring.New()
	for _, i := range indices {
		if i >= 0 && i < size {
			bm.Add(uint32(i))
		}
	}
	return internMask(bm, size)
}

// FullMask returns the mask accepting every position.
func FullMask(size int) *IndexMask {
	bm := roaring.New()
	if size > 0 {
		bm.AddRange(0, uint64(size))
	}
	return internMask(bm, size)
}

// Len returns the number of addressable positions.
func (m *IndexMask) Len() int { return m.size }

// Cardinality returns the number of accepted indices.
func (m *IndexMask) Cardinality() int { return int(m.bits.GetCardinality()) }

// IsEmpty reports whether no index is accepted.
func (m *IndexMask) IsEmpty() bool { return m.bits.IsEmpty() }

// IsFull reports whether every position is accepted.
func (m *IndexMask) IsFull() bool { return m.Cardinality() == m.size }

// Contains reports whether index i is accepted.
func (m *IndexMask) Contains(i int) bool {
	return i >= 0 && i < m.size && m.bits.Contains(uint32(i))
}

// Indices returns the accepted indices in ascending order.
func (m *IndexMask) Indices() []int {
	out := make([]int, 0, m.Cardinality())
	it := m.bits.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Equal reports whether both masks accept the same indices out of the same
// number of positions.
func (m *IndexMask) Equal(o *IndexMask) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return m.size == o.size && m.bits.Equals(o.bits)
}

// And returns the intersection of two masks of the same length.
func (m *IndexMask) And(o *IndexMask) *IndexMask {
	return internMask(roaring.And(m.bits, o.bits), min(m.size, o.size))
}

func (m *IndexMask) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d[", m.Cardinality(), m.size)
	for i, idx := range m.Indices() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", idx)
	}
	sb.WriteByte(']')
	return sb.String()
}

// -----------------------------------------------------------------------------
// Intern cache
// -----------------------------------------------------------------------------

// maxInternedMasks bounds the intern cache; beyond it masks are still
// correct but no longer shared.
const maxInternedMasks = 1 << 14

var masks = &maskCache{entries: make(map[uint64][]*IndexMask)}

type maskCache struct {
	mu      sync.Mutex
	entries map[uint64][]*IndexMask
	count   int
}

func internMask(bm *roaring.Bitmap, size int) *IndexMask {
	bm.RunOptimize()
	m := &IndexMask{bits: bm, size: size}
	h := maskHash(m)

	masks.mu.Lock()
	defer masks.mu.Unlock()
	for _, e := range masks.entries[h] {
		if e.size == size && e.bits.Equals(bm) {
			return e
		}
	}
	if masks.count < maxInternedMasks {
		masks.entries[h] = append(masks.entries[h], m)
		masks.count++
	}
	return m
}

func maskHash(m *IndexMask) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m.size))
	_, _ = d.Write(buf[:])
	it := m.bits.Iterator()
	for it.HasNext() {
		binary.LittleEndian.PutUint32(buf[:4], it.Next())
		_, _ = d.Write(buf[:4])
	}
	return d.Sum64()
}
