// Package task defines the protocol operations queued for an account worker
// and the strict-FIFO queue feeding them to it.
package task

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mailhoard/mailhoard/pkg/message"
)

// Kind enumerates the protocol operations a worker can execute.
type Kind int

const (
	// KindSynchronize diffs one or more folders against the local index.
	KindSynchronize Kind = iota
	// KindFetchMessage fetches a whole message body on demand.
	KindFetchMessage
	// KindFetchAttachment fetches one attachment part into a local file.
	KindFetchAttachment
	// KindSetReadStatus pushes a read/unread flag change to the server.
	KindSetReadStatus
	// KindCopyMessages copies messages from one folder into others.
	KindCopyMessages
	// KindDeleteMessages deletes messages from a folder.
	KindDeleteMessages
	// KindSendMessage submits an outgoing message.
	KindSendMessage
	// KindGetMessageCount queries a folder's message count.
	KindGetMessageCount
	// KindNoop keeps an idle connection alive.
	KindNoop
)

func (k Kind) String() string {
	switch k {
	case KindSynchronize:
		return "synchronize"
	case KindFetchMessage:
		return "fetch-message"
	case KindFetchAttachment:
		return "fetch-attachment"
	case KindSetReadStatus:
		return "set-read-status"
	case KindCopyMessages:
		return "copy-messages"
	case KindDeleteMessages:
		return "delete-messages"
	case KindSendMessage:
		return "send-message"
	case KindGetMessageCount:
		return "get-message-count"
	case KindNoop:
		return "noop"
	}
	return "unknown"
}

// Item is one queued operation.  Identity is insertion order; the UUID only
// tags log lines.  Fields beyond Kind are operation specific and unused
// otherwise.
type Item struct {
	ID   uuid.UUID
	Kind Kind

	// Folder is the primary target folder.
	Folder []string
	// Folders carries multi-folder targets: sync batches, copy destinations.
	Folders [][]string
	// MessageIDs are the target message IDs.
	MessageIDs [][]byte
	// Since is the incremental sync cursor; nil requests a full sync.
	Since []byte
	// Read is the desired state for set-read-status.
	Read bool
	// PartID and DestPath address an attachment fetch.
	PartID   string
	DestPath string
	// Message is the fetch target or outgoing message.
	Message *message.Message
	// CountFn receives the result of get-message-count.
	CountFn func(int)
}

// New creates an Item of the given kind with a fresh tag.
func New(kind Kind) Item {
	return Item{ID: uuid.New(), Kind: kind}
}

func (it Item) String() string {
	return fmt.Sprintf("Item{%s %s}", it.Kind, it.ID)
}
