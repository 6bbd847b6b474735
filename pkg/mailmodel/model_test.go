package mailmodel

import (
	"testing"
	"time"

	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, time.March, n, 12, 0, 0, 0, time.UTC)
}

func row(id string, d time.Time, read bool) *message.Message {
	return &message.Message{ID: []byte(id), Date: d, Read: read}
}

func rowIDs(m *Model) []string {
	var out []string
	for _, r := range m.Rows() {
		out = append(out, string(r.ID))
	}
	return out
}

func TestModelSortsNewestFirst(t *testing.T) {
	m := New(message.Inbox)
	m.ApplyAdded([]*message.Message{
		row("b", day(2), false),
		row("c", day(3), false),
		row("a", day(1), false),
	})
	assert.Equal(t, []string{"c", "b", "a"}, rowIDs(m))
}

func TestModelStableOnEqualDates(t *testing.T) {
	m := New(message.Inbox)
	m.ApplyAdded([]*message.Message{
		row("y", day(1), false),
		row("x", day(1), false),
	})
	assert.Equal(t, []string{"x", "y"}, rowIDs(m))
}

func TestModelUpdateReplacesRow(t *testing.T) {
	m := New(message.Inbox)
	m.ApplyAdded([]*message.Message{row("a", day(1), false)})
	m.ApplyUpdated([]*message.Message{row("a", day(1), true)})

	require.Equal(t, 1, m.Len())
	assert.True(t, m.Rows()[0].Read)
	assert.Equal(t, 0, m.Unread())
}

func TestModelUpdateMayMoveRow(t *testing.T) {
	m := New(message.Inbox)
	m.ApplyAdded([]*message.Message{
		row("a", day(1), false),
		row("b", day(2), false),
	})
	// Date correction moves the row to the top.
	m.ApplyUpdated([]*message.Message{row("a", day(5), false)})
	assert.Equal(t, []string{"a", "b"}, rowIDs(m))
}

func TestModelRemove(t *testing.T) {
	m := New(message.Inbox)
	m.ApplyAdded([]*message.Message{
		row("a", day(1), false),
		row("b", day(2), false),
	})
	m.ApplyRemoved([][]byte{[]byte("b"), []byte("missing")})
	assert.Equal(t, []string{"a"}, rowIDs(m))
}

func TestModelSetRead(t *testing.T) {
	m := New(message.Inbox)
	m.ApplyAdded([]*message.Message{
		row("a", day(1), false),
		row("b", day(2), false),
	})
	require.Equal(t, 2, m.Unread())

	m.SetRead([][]byte{[]byte("a")}, true)
	assert.Equal(t, 1, m.Unread())
	assert.Equal(t, []string{"b", "a"}, rowIDs(m))
}
