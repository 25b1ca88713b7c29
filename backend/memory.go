package backend

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Memory is an in-memory Database implementation retaining all data in a
// plain map. It mirrors LevelDB's contract, including the atomic
// application of write batches, and is mainly intended for unit tests and
// ephemeral setups.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(key []byte, _ *opt.ReadOptions) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, exists := m.data[string(key)]
	if !exists {
		return nil, leveldb.ErrNotFound
	}
	res := make([]byte, len(value))
	copy(res, value)
	return res, nil
}

func (m *Memory) Has(key []byte, _ *opt.ReadOptions) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.data[string(key)]
	return exists, nil
}

func (m *Memory) Put(key, value []byte, _ *opt.WriteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value)
	return nil
}

func (m *Memory) Delete(key []byte, _ *opt.WriteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) Write(batch *leveldb.Batch, _ *opt.WriteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return batch.Replay(batchApplier{m})
}

func (m *Memory) put(key, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[string(key)] = stored
}

// batchApplier replays the operations of a write batch into the map while
// the database lock is held, making the batch application atomic with
// respect to concurrent readers.
type batchApplier struct {
	memory *Memory
}

func (a batchApplier) Put(key, value []byte) {
	a.memory.put(key, value)
}

func (a batchApplier) Delete(key []byte) {
	delete(a.memory.data, string(key))
}
