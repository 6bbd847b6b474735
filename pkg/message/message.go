// Package message contains the mail message and folder value objects shared
// by the sync worker and the storage engine.
package message

import (
	"bytes"
	"encoding/hex"
	"net/mail"
	"time"
)

// Kind discriminates message categories that used to be separate subclasses
// in older designs.  A single switch on Kind replaces runtime type checks.
type Kind int

const (
	// KindReceived is a message fetched from the server.
	KindReceived Kind = iota
	// KindSent is a message submitted through the outgoing transport.
	KindSent
	// KindDraft is a locally composed, not yet submitted message.
	KindDraft
)

func (k Kind) String() string {
	switch k {
	case KindReceived:
		return "received"
	case KindSent:
		return "sent"
	case KindDraft:
		return "draft"
	}
	return "unknown"
}

// Flag names mirror the IMAP system flags the worker cares about.
const (
	FlagSeen     = "\\Seen"
	FlagAnswered = "\\Answered"
	FlagFlagged  = "\\Flagged"
)

// Attachment describes one attachment part without carrying its content.
// Content is fetched on demand into a destination file.
type Attachment struct {
	Name   string
	MIME   string
	Size   int64
	PartID string
}

// Message is the in-memory representation of one mail message.  ID is the
// protocol-assigned opaque identifier and doubles as the storage key.  A
// message may belong to several folders at once (server side labels).
type Message struct {
	ID      []byte
	Kind    Kind
	Subject string
	From    *mail.Address
	To      []*mail.Address
	Cc      []*mail.Address
	Date    time.Time
	Size    int64
	Read    bool
	Flags   []string
	Folders [][]string

	// Body fields are only populated after an explicit whole-message fetch.
	Body        string
	HTMLBody    string
	Attachments []Attachment
}

// HexID returns the hex form of the message ID, used for file names.
func (m *Message) HexID() string {
	return hex.EncodeToString(m.ID)
}

// InFolder reports whether the message claims membership in folder.
func (m *Message) InFolder(folder []string) bool {
	for _, f := range m.Folders {
		if PathEqual(f, folder) {
			return true
		}
	}
	return false
}

// AddFolder records membership in folder, ignoring duplicates.
func (m *Message) AddFolder(folder []string) {
	if !m.InFolder(folder) {
		m.Folders = append(m.Folders, folder)
	}
}

// RemoveFolder drops membership in folder.
func (m *Message) RemoveFolder(folder []string) {
	out := m.Folders[:0]
	for _, f := range m.Folders {
		if !PathEqual(f, folder) {
			out = append(out, f)
		}
	}
	m.Folders = out
}

// HasFlag reports whether the named flag is set.
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Equal compares the fixed attribute fields of two messages; body fields and
// attachments are excluded since they are populated lazily.
func (m *Message) Equal(o *Message) bool {
	if o == nil {
		return false
	}
	if !bytes.Equal(m.ID, o.ID) || m.Kind != o.Kind || m.Subject != o.Subject ||
		!m.Date.Equal(o.Date) || m.Size != o.Size || m.Read != o.Read {
		return false
	}
	if len(m.Folders) != len(o.Folders) {
		return false
	}
	for i := range m.Folders {
		if !PathEqual(m.Folders[i], o.Folders[i]) {
			return false
		}
	}
	return true
}
