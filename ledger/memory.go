package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/teranos/proofchain/errors"
)

// Memory is an in-process Registry. Every operation is serialized.
type Memory struct {
	mu    sync.Mutex
	boxes map[string][]byte
	txs   map[string]bool
	round uint64
}

// NewMemory creates an empty registry starting at round.
func NewMemory(round uint64) *Memory {
	return &Memory{
		boxes: make(map[string][]byte),
		txs:   make(map[string]bool),
		round: round,
	}
}

func (m *Memory) BoxExists(ctx context.Context, name []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.boxes[string(name)]
	return ok, nil
}

func (m *Memory) BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boxes[string(name)]; ok {
		return false, nil
	}
	m.boxes[string(name)] = make([]byte, size)
	m.round++
	return true, nil
}

func (m *Memory) BoxCreateWith(ctx context.Context, name, value []byte) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boxes[string(name)]; ok {
		return false, "", nil
	}
	m.boxes[string(name)] = append([]byte(nil), value...)
	m.round++
	txid := localTxID(m.round, name)
	m.txs[txid] = true
	return true, txid, nil
}

func (m *Memory) BoxPut(ctx context.Context, name, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.boxes[string(name)]
	if !ok {
		return errors.NewNotFoundError("box %s", short(name))
	}
	if len(cur) != len(value) {
		return errors.Wrapf(ErrBoxSizeMismatch, "box %s has %d bytes, value has %d", short(name), len(cur), len(value))
	}
	copy(cur, value)
	return nil
}

func (m *Memory) BoxGet(ctx context.Context, name []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.boxes[string(name)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) CurrentRound(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round, nil
}

func (m *Memory) TxConfirmed(ctx context.Context, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs[txid], nil
}

// BoxCount returns the number of boxes held.
func (m *Memory) BoxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes)
}

// localTxID names a box creation committed by a local registry.
func localTxID(round uint64, name []byte) string {
	return fmt.Sprintf("LOCAL-%d-%s", round, short(name))
}
