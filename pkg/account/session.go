package account

import (
	"context"

	"github.com/mailhoard/mailhoard/pkg/message"
)

// MessageRef identifies one message on the server together with its current
// flag state, the unit of the sync diff.
type MessageRef struct {
	ID    []byte
	Flags []string
	Read  bool
}

// Session is the live mail-protocol connection owned by one worker.  All
// methods run on the worker goroutine; implementations need not be safe for
// concurrent use.  Close must be safe to call from another goroutine to
// unblock a stuck operation during forced shutdown.
type Session interface {
	// Dial establishes the secured transport.
	Dial(ctx context.Context) error

	// Login authenticates the dialed session.
	Login(ctx context.Context) error

	// Close tears down the connection.  Idempotent.
	Close() error

	// ListFolders returns the server's folder hierarchy.
	ListFolders(ctx context.Context) ([]message.Folder, error)

	// ListMessages returns the identifiers and flags of the folder's
	// messages.  A nil cursor requests the full folder; otherwise only
	// messages past the cursor are listed.  The returned cursor resumes the
	// next incremental sync.
	ListMessages(ctx context.Context, folder []string, since []byte) ([]MessageRef, []byte, error)

	// FetchHeaders fetches header-level metadata for the given IDs.
	FetchHeaders(ctx context.Context, folder []string, ids [][]byte) ([]*message.Message, error)

	// FetchMessage fetches the whole message including body and attachment
	// descriptors.
	FetchMessage(ctx context.Context, folder []string, id []byte) (*message.Message, error)

	// FetchAttachment streams one attachment part into destPath.
	FetchAttachment(ctx context.Context, folder []string, id []byte, partID, destPath string) error

	// SetRead pushes a read-flag change for the given IDs.
	SetRead(ctx context.Context, folder []string, ids [][]byte, read bool) error

	// Copy copies messages from one folder into each destination folder.
	Copy(ctx context.Context, ids [][]byte, from []string, tos [][]string) error

	// Delete removes messages from the folder.
	Delete(ctx context.Context, folder []string, ids [][]byte) error

	// MessageCount reports the folder's message count.
	MessageCount(ctx context.Context, folder []string) (int, error)

	// Noop issues a protocol keep-alive.
	Noop(ctx context.Context) error
}

// Sender is the outgoing submission channel, distinct from the store
// session; it may speak a different protocol on a different port.
type Sender interface {
	Send(ctx context.Context, msg *message.Message) error
}

// LocalState is the narrow view of the storage engine the worker needs for
// diffing: the locally known ID set per folder, cached read flags, and the
// folder's sync resumption cursor.
type LocalState interface {
	FolderIDs(folder []string) ([][]byte, error)
	IsRead(id []byte) (bool, error)
	Cursor(folder []string) ([]byte, error)
}
