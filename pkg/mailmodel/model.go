// Package mailmodel maintains a date-sorted header-row projection of one
// folder, fed by sync results.  It is the read side consumers render from.
package mailmodel

import (
	"sort"
	"sync"

	"github.com/mailhoard/mailhoard/pkg/message"
)

// Model is the sorted row set for one folder.  Rows are ordered newest
// first; ties break on ID so the order is stable across rebuilds.
type Model struct {
	mu     sync.RWMutex
	folder []string
	rows   []*message.Message
	byID   map[string]*message.Message
}

// New creates an empty model for folder.
func New(folder []string) *Model {
	return &Model{
		folder: folder,
		byID:   make(map[string]*message.Message),
	}
}

// Folder returns the folder this model projects.
func (m *Model) Folder() []string {
	return m.folder
}

// ApplyAdded inserts newly discovered messages.  A message already present
// is treated as an update.
func (m *Model) ApplyAdded(msgs []*message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.upsert(msg)
	}
}

// ApplyUpdated replaces rows whose server-side state changed.  Unknown IDs
// are inserted; an update racing a removal must not resurrect stale rows,
// so the caller feeds removals last.
func (m *Model) ApplyUpdated(msgs []*message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.upsert(msg)
	}
}

// ApplyRemoved drops the rows with the given IDs.  Unknown IDs are ignored.
func (m *Model) ApplyRemoved(ids [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		old, ok := m.byID[string(id)]
		if !ok {
			continue
		}
		delete(m.byID, string(id))
		if i := m.indexOf(old); i >= 0 {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
		}
	}
}

// SetRead flips the read flag on the given rows without reordering.
func (m *Model) SetRead(ids [][]byte, read bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if row, ok := m.byID[string(id)]; ok {
			row.Read = read
		}
	}
}

// Rows returns a snapshot of the sorted rows.
func (m *Model) Rows() []*message.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*message.Message(nil), m.rows...)
}

// Len reports the number of rows.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Unread reports the number of rows not marked read.
func (m *Model) Unread() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, row := range m.rows {
		if !row.Read {
			n++
		}
	}
	return n
}

// upsert inserts msg at its sorted position, replacing any previous row
// with the same ID.  Caller holds the write lock.
func (m *Model) upsert(msg *message.Message) {
	if old, ok := m.byID[string(msg.ID)]; ok {
		if i := m.indexOf(old); i >= 0 {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
		}
	}
	m.byID[string(msg.ID)] = msg
	i := sort.Search(len(m.rows), func(i int) bool {
		return rowLess(msg, m.rows[i])
	})
	m.rows = append(m.rows, nil)
	copy(m.rows[i+1:], m.rows[i:])
	m.rows[i] = msg
}

func (m *Model) indexOf(row *message.Message) int {
	for i, r := range m.rows {
		if string(r.ID) == string(row.ID) {
			return i
		}
	}
	return -1
}

// rowLess orders newest first, ID ascending on equal dates.
func rowLess(a, b *message.Message) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return string(a.ID) < string(b.ID)
}
