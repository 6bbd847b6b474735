package account

import (
	"github.com/mailhoard/mailhoard/pkg/message"
)

// Event is a worker result delivered over the thread's event channel.  The
// set of implementations is closed; consumers dispatch with one type switch.
type Event interface {
	event()
}

// HeadersEvent carries freshly fetched headers of messages new to folder.
type HeadersEvent struct {
	Folder   []string
	Messages []*message.Message
}

// UpdatedEvent carries messages whose server-side flags changed.
type UpdatedEvent struct {
	Folder   []string
	Messages []*message.Message
}

// RemovedEvent carries the IDs of messages gone from folder on the server.
type RemovedEvent struct {
	Folder []string
	IDs    [][]byte
}

// BodyEvent carries a whole message after an on-demand fetch.
type BodyEvent struct {
	Message *message.Message
}

// FoldersEvent carries the server's folder list.
type FoldersEvent struct {
	Folders []message.Folder
}

// SyncFinishedEvent marks the completion of one folder's sync, carrying the
// resumption cursor to persist.
type SyncFinishedEvent struct {
	Folder []string
	LastID []byte
}

// SentEvent reports successful submission of an outgoing message.  The
// message is not placed into any local folder; that decision belongs to the
// consumer.
type SentEvent struct {
	Message *message.Message
}

// ProgressEvent reports how far a folder's header download has come, for
// long syncs.
type ProgressEvent struct {
	Folder []string
	Done   int
	Total  int
}

// ReadStatusEvent reports that a read-flag change was accepted by the
// server and should be mirrored locally.
type ReadStatusEvent struct {
	Folder []string
	IDs    [][]byte
	Read   bool
}

// ErrorEvent carries a classified failure.
type ErrorEvent struct {
	Err error
}

func (HeadersEvent) event()      {}
func (UpdatedEvent) event()      {}
func (RemovedEvent) event()      {}
func (BodyEvent) event()         {}
func (FoldersEvent) event()      {}
func (SyncFinishedEvent) event() {}
func (SentEvent) event()         {}
func (ReadStatusEvent) event()   {}
func (ProgressEvent) event()     {}
func (ErrorEvent) event()        {}
