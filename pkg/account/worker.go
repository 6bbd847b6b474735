package account

import (
	"context"

	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/task"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// State tracks where the worker is in the connection lifecycle.
type State int

const (
	// StateDisconnected means no live session exists.
	StateDisconnected State = iota
	// StateConnecting means the transport is being established.
	StateConnecting
	// StateAuthenticating means the transport is up, credentials pending.
	StateAuthenticating
	// StateReady means the session is authenticated and idle.
	StateReady
	// StateExecuting means an operation is in flight.
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	}
	return "unknown"
}

// Worker executes queued operations against one account's session.  It is
// confined to the thread goroutine; only the enclosing Thread touches it.
type Worker struct {
	acc     *Account
	session Session
	sender  Sender
	local   LocalState
	events  chan<- Event
	logger  zerolog.Logger
	state   State
}

// NewWorker wires a worker from its collaborators.  Results flow out on
// events; the caller owns the channel and must drain it.
func NewWorker(acc *Account, session Session, sender Sender, local LocalState,
	events chan<- Event, logger zerolog.Logger) *Worker {
	return &Worker{
		acc:     acc,
		session: session,
		sender:  sender,
		local:   local,
		events:  events,
		logger:  logger.With().Str("module", "worker").Str("account", acc.Name).Logger(),
	}
}

// State reports the current lifecycle state.
func (w *Worker) State() State {
	return w.state
}

// Connected reports whether a live authenticated session exists.
func (w *Worker) Connected() bool {
	return w.state == StateReady || w.state == StateExecuting
}

// Disconnect tears down the session, if any.
func (w *Worker) Disconnect() {
	if w.state != StateDisconnected {
		if err := w.session.Close(); err != nil {
			w.logger.Debug().Err(err).Msg("Session close failed")
		}
		w.state = StateDisconnected
	}
}

// Execute runs one queued operation to completion, emitting result events.
// Failures are classified and emitted as ErrorEvents; connection-resetting
// kinds drop the session so the next task reconnects.
func (w *Worker) Execute(ctx context.Context, item task.Item) {
	logger := w.logger.With().Stringer("id", item.ID).Stringer("kind", item.Kind).Logger()
	logger.Debug().Msg("Executing task")

	// Submission runs on its own channel and needs no store session.
	if item.Kind == task.KindSendMessage {
		if err := w.sender.Send(ctx, item.Message); err != nil {
			w.fail(logger, err)
			return
		}
		w.emit(SentEvent{Message: item.Message})
		return
	}

	// A keep-alive only makes sense on an existing connection.
	if item.Kind == task.KindNoop && w.state == StateDisconnected {
		return
	}

	if err := w.ensureConnected(ctx); err != nil {
		w.fail(logger, err)
		return
	}
	w.state = StateExecuting
	defer func() {
		if w.state == StateExecuting {
			w.state = StateReady
		}
	}()

	var err error
	switch item.Kind {
	case task.KindSynchronize:
		err = w.synchronize(ctx, item)
	case task.KindFetchMessage:
		err = w.fetchMessage(ctx, item)
	case task.KindFetchAttachment:
		err = w.session.FetchAttachment(ctx, item.Folder, firstID(item), item.PartID, item.DestPath)
	case task.KindSetReadStatus:
		if err = w.session.SetRead(ctx, item.Folder, item.MessageIDs, item.Read); err == nil {
			w.emit(ReadStatusEvent{Folder: item.Folder, IDs: item.MessageIDs, Read: item.Read})
		}
	case task.KindCopyMessages:
		err = w.session.Copy(ctx, item.MessageIDs, item.Folder, item.Folders)
	case task.KindDeleteMessages:
		if err = w.session.Delete(ctx, item.Folder, item.MessageIDs); err == nil {
			w.emit(RemovedEvent{Folder: item.Folder, IDs: item.MessageIDs})
		}
	case task.KindGetMessageCount:
		var n int
		if n, err = w.session.MessageCount(ctx, item.Folder); err == nil && item.CountFn != nil {
			item.CountFn(n)
		}
	case task.KindNoop:
		err = w.session.Noop(ctx)
	default:
		err = newError(ErrProtocol, "execute", errors.Errorf("unknown task kind %d", int(item.Kind)))
	}
	if err != nil {
		w.fail(logger, err)
	}
}

// ensureConnected walks the state machine up to Ready, dialing and
// authenticating as needed.
func (w *Worker) ensureConnected(ctx context.Context) error {
	if w.Connected() {
		return nil
	}
	if w.state == StateDisconnected {
		w.state = StateConnecting
		if err := w.session.Dial(ctx); err != nil {
			w.state = StateDisconnected
			return err
		}
		w.state = StateAuthenticating
	}
	if w.state == StateAuthenticating {
		if err := w.session.Login(ctx); err != nil {
			w.state = StateDisconnected
			return err
		}
		w.logger.Info().Msg("Session established")
		w.state = StateReady
	}
	return nil
}

func (w *Worker) fetchMessage(ctx context.Context, item task.Item) error {
	msg, err := w.session.FetchMessage(ctx, item.Folder, firstID(item))
	if err != nil {
		return err
	}
	w.emit(BodyEvent{Message: msg})
	return nil
}

// fail classifies err, resets the connection when the kind requires it, and
// reports the failure.
func (w *Worker) fail(logger zerolog.Logger, err error) {
	kind, classified := KindOf(err)
	if !classified {
		err = newError(kind, "task", err)
	}
	logger.Error().Err(err).Stringer("errkind", kind).Msg("Task failed")
	if kind.ResetsConnection() {
		w.Disconnect()
	} else if w.state == StateExecuting {
		w.state = StateReady
	}
	w.emit(ErrorEvent{Err: err})
}

func (w *Worker) emit(ev Event) {
	w.events <- ev
}

func firstID(item task.Item) []byte {
	if item.Message != nil && len(item.Message.ID) > 0 {
		return item.Message.ID
	}
	if len(item.MessageIDs) > 0 {
		return item.MessageIDs[0]
	}
	return nil
}

// defaultFolders substitutes the inbox when a sync batch names no folders.
func defaultFolders(folders [][]string) [][]string {
	if len(folders) == 0 {
		return [][]string{message.Inbox}
	}
	return folders
}
