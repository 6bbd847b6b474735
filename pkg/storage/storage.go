// Package storage contains implementation independent message store logic.
package storage

import (
	"errors"

	"github.com/mailhoard/mailhoard/pkg/message"
)

var (
	// ErrNotExist indicates the requested message does not exist.
	ErrNotExist = errors.New("message does not exist")

	// ErrCorrupt indicates a persisted message blob failed to deserialize.
	ErrCorrupt = errors.New("message blob corrupt")
)

// Store persists messages for any number of accounts.  Messages are keyed by
// their protocol-assigned ID; folder membership is tracked in a relational
// index so per-folder listing never walks the blob tree.
//
// Batch operations skip failing items and keep going; only whole-store
// failures (an unreachable index database, an unreadable account directory)
// surface as errors.
type Store interface {
	// SaveMessages persists each message with a non-empty ID and records its
	// folder membership.  Per-message failures are logged and skipped.
	SaveMessages(account string, msgs []*message.Message) error

	// LoadMessages scans the whole account store.  Corrupt blobs are skipped.
	LoadMessages(account string) ([]*message.Message, error)

	// LoadMessage fetches one message by ID; ErrNotExist when absent.
	LoadMessage(account string, id []byte) (*message.Message, error)

	// LoadIDs enumerates every stored message ID via a directory walk.
	LoadIDs(account string) ([][]byte, error)

	// FolderIDs lists the IDs belonging to folder via the relational index.
	FolderIDs(account string, folder []string) ([][]byte, error)

	// MessageFolders lists the folders a message belongs to, served by the
	// inverse index table.
	MessageFolders(account string, id []byte) ([][]string, error)

	// RemoveMessage detaches the message from all folder index rows and
	// deletes its backing blob.
	RemoveMessage(account string, id []byte) error

	// RemoveFromFolder drops a single folder membership, leaving the blob
	// and any other memberships in place.
	RemoveFromFolder(account string, id []byte, folder []string) error

	// IsMessageRead serves the read flag from the in-memory cache when
	// possible, falling back to a full message load.
	IsMessageRead(account string, id []byte) (bool, error)

	// SetRead updates the persisted read flag of one message.
	SetRead(account string, id []byte, read bool) error

	// SaveFolderCursor persists the folder's incremental sync marker.
	SaveFolderCursor(account string, folder []string, cursor []byte) error

	// LoadFolderCursor returns the saved marker, nil when none exists.
	LoadFolderCursor(account string, folder []string) ([]byte, error)

	Close() error
}
