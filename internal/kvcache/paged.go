// Package kvcache tracks KV-cache blocks for in-flight sequences. It manages
// a pool of fixed-size blocks and a block table per sequence, in the manner of
// PagedAttention, and optionally reuses full blocks across sequences that
// share a token prefix.
package kvcache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/23skdu/longbow-eagle/internal/logger"
	"github.com/23skdu/longbow-eagle/internal/metrics"
)

var (
	ErrOutOfBlocks     = errors.New("kvcache: no free blocks")
	ErrUnknownSequence = errors.New("kvcache: unknown sequence")
	ErrDuplicateSeq    = errors.New("kvcache: sequence already allocated")
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	TotalBlocks  int
	FreeBlocks   int
	CachedBlocks int // unreferenced but kept for prefix reuse
	Sequences    int
	BlockSize    int
}

// table is the per-sequence block table. Only the tokens of the trailing
// partial block are kept; full blocks are summarised by their chained hash.
type table struct {
	blocks     []int32
	numTokens  int
	tail       []int
	parentHash uint64
}

// PagedManager implements allocate/extend/reuse over a fixed block pool.
type PagedManager struct {
	mu sync.Mutex

	blockSize   int
	totalBlocks int
	reuse       bool

	freeBlocks []int32
	refs       []int32
	tables     map[string]*table

	// prefix reuse
	cached    map[uint64]int32
	blockHash map[int32]uint64
	evictable []int32
}

// NewPagedManager creates a pool of totalBlocks blocks of blockSize tokens.
func NewPagedManager(totalBlocks, blockSize int, enableReuse bool) (*PagedManager, error) {
	if totalBlocks <= 0 {
		return nil, fmt.Errorf("invalid block count: %d", totalBlocks)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size: %d", blockSize)
	}

	m := &PagedManager{
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
		reuse:       enableReuse,
		freeBlocks:  make([]int32, totalBlocks),
		refs:        make([]int32, totalBlocks),
		tables:      make(map[string]*table),
		cached:      make(map[uint64]int32),
		blockHash:   make(map[int32]uint64),
	}
	for i := 0; i < totalBlocks; i++ {
		m.freeBlocks[i] = int32(totalBlocks - 1 - i) // stack order
	}
	m.publish()
	return m, nil
}

// Allocate registers seqID and stores tokens, returning how many leading
// tokens were served from reused blocks.
func (m *PagedManager) Allocate(seqID string, tokens []int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[seqID]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateSeq, seqID)
	}

	t := &table{}
	reused := 0
	if m.reuse {
		reused = m.attachPrefix(t, tokens)
	}

	if err := m.appendTokens(t, tokens[reused:]); err != nil {
		m.releaseTable(t)
		metrics.RecordKVCacheAllocFailure()
		m.publish()
		return 0, err
	}

	m.tables[seqID] = t
	metrics.RecordKVCacheReuse(reused)
	m.publish()
	logger.Log.Debug("kv blocks allocated", "seq", seqID, "tokens", len(tokens), "reused", reused, "blocks", len(t.blocks))
	return reused, nil
}

// Extend appends tokens to an allocated sequence, taking new blocks as needed.
// On failure the sequence is left unchanged.
func (m *PagedManager) Extend(seqID string, tokens []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[seqID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSequence, seqID)
	}
	if err := m.appendTokens(t, tokens); err != nil {
		metrics.RecordKVCacheAllocFailure()
		m.publish()
		return err
	}
	m.publish()
	return nil
}

// Release drops the sequence. Full blocks that are registered for reuse stay
// cached until evicted; all others return to the free list.
func (m *PagedManager) Release(seqID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[seqID]
	if !ok {
		return
	}
	delete(m.tables, seqID)
	m.releaseTable(t)
	m.publish()
}

// BlockTable returns a copy of the physical block ids of seqID.
func (m *PagedManager) BlockTable(seqID string) []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[seqID]
	if !ok {
		return nil
	}
	out := make([]int32, len(t.blocks))
	copy(out, t.blocks)
	return out
}

// NumTokens returns how many tokens seqID holds.
func (m *PagedManager) NumTokens(seqID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tables[seqID]; ok {
		return t.numTokens
	}
	return 0
}

func (m *PagedManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *PagedManager) statsLocked() Stats {
	return Stats{
		TotalBlocks:  m.totalBlocks,
		FreeBlocks:   len(m.freeBlocks),
		CachedBlocks: len(m.evictable),
		Sequences:    len(m.tables),
		BlockSize:    m.blockSize,
	}
}

func (m *PagedManager) publish() {
	s := m.statsLocked()
	metrics.RecordKVCacheBlocks(s.TotalBlocks, s.FreeBlocks, s.CachedBlocks)
}

// attachPrefix maps the longest run of cached full blocks onto t.
func (m *PagedManager) attachPrefix(t *table, tokens []int) int {
	reused := 0
	parent := uint64(0)
	for reused+m.blockSize <= len(tokens) {
		h := blockHash(parent, tokens[reused:reused+m.blockSize])
		block, ok := m.cached[h]
		if !ok {
			break
		}
		if m.refs[block] == 0 {
			m.removeEvictable(block)
		}
		m.refs[block]++
		t.blocks = append(t.blocks, block)
		t.numTokens += m.blockSize
		parent = h
		reused += m.blockSize
	}
	t.parentHash = parent
	return reused
}

func (m *PagedManager) appendTokens(t *table, tokens []int) error {
	need := (t.numTokens+len(tokens)+m.blockSize-1)/m.blockSize - len(t.blocks)
	if need > len(m.freeBlocks)+len(m.evictable) {
		return fmt.Errorf("%w: need %d, have %d", ErrOutOfBlocks, need, len(m.freeBlocks)+len(m.evictable))
	}
	for _, tok := range tokens {
		if t.numTokens%m.blockSize == 0 {
			block, err := m.allocateBlock()
			if err != nil {
				return err
			}
			m.refs[block] = 1
			t.blocks = append(t.blocks, block)
		}
		t.tail = append(t.tail, tok)
		t.numTokens++

		if len(t.tail) == m.blockSize {
			h := blockHash(t.parentHash, t.tail)
			if m.reuse {
				m.register(t.blocks[len(t.blocks)-1], h)
			}
			t.parentHash = h
			t.tail = t.tail[:0]
		}
	}
	return nil
}

func (m *PagedManager) register(block int32, h uint64) {
	if _, ok := m.cached[h]; ok {
		return
	}
	m.cached[h] = block
	m.blockHash[block] = h
}

func (m *PagedManager) allocateBlock() (int32, error) {
	if n := len(m.freeBlocks); n > 0 {
		block := m.freeBlocks[n-1]
		m.freeBlocks = m.freeBlocks[:n-1]
		return block, nil
	}
	if len(m.evictable) > 0 {
		block := m.evictable[0]
		m.evictable = m.evictable[1:]
		m.forget(block)
		metrics.RecordKVCacheEviction()
		return block, nil
	}
	return -1, ErrOutOfBlocks
}

func (m *PagedManager) releaseTable(t *table) {
	for _, block := range t.blocks {
		m.refs[block]--
		if m.refs[block] > 0 {
			continue
		}
		if _, ok := m.blockHash[block]; ok {
			m.evictable = append(m.evictable, block)
			continue
		}
		m.freeBlocks = append(m.freeBlocks, block)
	}
	t.blocks = nil
}

func (m *PagedManager) forget(block int32) {
	if h, ok := m.blockHash[block]; ok {
		delete(m.cached, h)
		delete(m.blockHash, block)
	}
}

func (m *PagedManager) removeEvictable(block int32) {
	for i, b := range m.evictable {
		if b == block {
			m.evictable = append(m.evictable[:i], m.evictable[i+1:]...)
			return
		}
	}
}

func blockHash(parent uint64, tokens []int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], parent)
	_, _ = d.Write(buf[:])
	for _, t := range tokens {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
