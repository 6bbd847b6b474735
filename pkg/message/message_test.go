package message_test

import (
	"net/mail"
	"testing"
	"time"

	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *message.Message {
	return &message.Message{
		ID:      []byte("uid-1009"),
		Kind:    message.KindReceived,
		Subject: "quarterly numbers",
		From:    &mail.Address{Name: "Fred B. Fish", Address: "fred@fish.example"},
		To: []*mail.Address{
			{Address: "user@domain.example"},
		},
		Date:    time.Date(2016, 3, 4, 12, 0, 0, 0, time.UTC),
		Size:    2048,
		Read:    true,
		Flags:   []string{message.FlagSeen},
		Folders: [][]string{{"INBOX"}, {"work", "reports"}},
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	want := testMessage()
	blob, err := want.Serialize()
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := message.Deserialize(blob)
	require.NoError(t, err)
	assert.True(t, got.Equal(want), "round-tripped message differs: got %+v", got)
	assert.Equal(t, want.Subject, got.Subject)
	assert.Equal(t, want.From.Address, got.From.Address)
	assert.Equal(t, want.Flags, got.Flags)
}

func TestDeserializeCorrupt(t *testing.T) {
	// Not zlib at all.
	_, err := message.Deserialize([]byte("not a blob"))
	assert.Error(t, err)

	// Valid zlib prefix, truncated payload.
	blob, err := testMessage().Serialize()
	require.NoError(t, err)
	_, err = message.Deserialize(blob[:len(blob)/2])
	assert.Error(t, err)
}

func TestFolderMembership(t *testing.T) {
	m := &message.Message{ID: []byte("a")}
	m.AddFolder([]string{"INBOX"})
	m.AddFolder([]string{"INBOX"})
	m.AddFolder([]string{"lists", "golang"})
	assert.Len(t, m.Folders, 2, "duplicate AddFolder must be ignored")
	assert.True(t, m.InFolder([]string{"lists", "golang"}))

	m.RemoveFolder([]string{"INBOX"})
	assert.False(t, m.InFolder([]string{"INBOX"}))
	assert.Len(t, m.Folders, 1)
}

func TestPathKey(t *testing.T) {
	// Empty path defaults to INBOX.
	assert.Equal(t, message.PathKey(nil), message.PathKey([]string{"INBOX"}))

	// Separator characters in segments must not collide.
	a := message.PathKey([]string{"a/b"})
	b := message.PathKey([]string{"a", "b"})
	assert.NotEqual(t, a, b)

	path, err := message.ParsePathKey(message.PathKey([]string{"work", "reports"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "reports"}, path)
}
