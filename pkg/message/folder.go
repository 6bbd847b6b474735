package message

import (
	"encoding/json"
	"strings"
)

// Folder describes one hierarchical mailbox container.  Path is the ordered
// list of name segments; the index tables key rows by PathKey(Path).
type Folder struct {
	Path        []string
	DisplayName string
	Messages    int
	Unread      int

	// SyncCursor is the opaque last-seen marker persisted after a finished
	// folder sync, fed back into the next incremental sync.
	SyncCursor []byte
}

// Inbox is the default folder assumed when a message claims no membership.
var Inbox = []string{"INBOX"}

// PathKey returns the canonical byte encoding of a folder path, used as the
// folder column value in the index tables.  JSON keeps the encoding stable
// and readable in the database while surviving separators in segment names.
// An empty path maps to INBOX.
func PathKey(path []string) []byte {
	if len(path) == 0 {
		path = Inbox
	}
	b, err := json.Marshal(path)
	if err != nil {
		// A []string cannot fail to marshal.
		panic(err)
	}
	return b
}

// ParsePathKey decodes a folder column value back into a path.
func ParsePathKey(key []byte) ([]string, error) {
	var path []string
	if err := json.Unmarshal(key, &path); err != nil {
		return nil, err
	}
	return path, nil
}

// PathEqual reports whether two folder paths are identical.
func PathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PathString renders a path for logs and display, e.g. "INBOX/archive".
func PathString(path []string) string {
	return strings.Join(path, "/")
}
