package account

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/task"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession is an in-memory Session with scriptable listings and
// failures.  Call names are recorded for order assertions.
type fakeSession struct {
	mu sync.Mutex

	// listings keys are folder path keys; the full listing is returned for
	// a nil cursor, the partial one otherwise.
	listings map[string][]MessageRef
	partials map[string][]MessageRef
	cursors  map[string][]byte

	dialErr    error
	loginErr   error
	folderErrs map[string]error

	calls  []string
	closed int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		listings:   make(map[string][]MessageRef),
		partials:   make(map[string][]MessageRef),
		cursors:    make(map[string][]byte),
		folderErrs: make(map[string]error),
	}
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Dial(ctx context.Context) error {
	f.record("dial")
	return f.dialErr
}

func (f *fakeSession) Login(ctx context.Context) error {
	f.record("login")
	return f.loginErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) ListFolders(ctx context.Context) ([]message.Folder, error) {
	f.record("list-folders")
	var out []message.Folder
	for key := range f.listings {
		path, err := message.ParsePathKey([]byte(key))
		if err != nil {
			return nil, err
		}
		out = append(out, message.Folder{Path: path})
	}
	return out, nil
}

func (f *fakeSession) ListMessages(ctx context.Context, folder []string, since []byte) ([]MessageRef, []byte, error) {
	key := string(message.PathKey(folder))
	f.record("list " + message.PathString(folder))
	if err := f.folderErrs[key]; err != nil {
		return nil, nil, err
	}
	cursor := f.cursors[key]
	if since != nil {
		return f.partials[key], cursor, nil
	}
	return f.listings[key], cursor, nil
}

func (f *fakeSession) FetchHeaders(ctx context.Context, folder []string, ids [][]byte) ([]*message.Message, error) {
	f.record("headers")
	key := string(message.PathKey(folder))
	byID := make(map[string]MessageRef)
	for _, ref := range append(f.listings[key], f.partials[key]...) {
		byID[string(ref.ID)] = ref
	}
	var out []*message.Message
	for _, id := range ids {
		ref := byID[string(id)]
		out = append(out, &message.Message{
			ID:      id,
			Read:    ref.Read,
			Flags:   ref.Flags,
			Folders: [][]string{folder},
		})
	}
	return out, nil
}

func (f *fakeSession) FetchMessage(ctx context.Context, folder []string, id []byte) (*message.Message, error) {
	f.record("fetch")
	return &message.Message{ID: id, Body: "hello", Folders: [][]string{folder}}, nil
}

func (f *fakeSession) FetchAttachment(ctx context.Context, folder []string, id []byte, partID, destPath string) error {
	f.record("attachment " + partID)
	return nil
}

func (f *fakeSession) SetRead(ctx context.Context, folder []string, ids [][]byte, read bool) error {
	f.record("set-read")
	return nil
}

func (f *fakeSession) Copy(ctx context.Context, ids [][]byte, from []string, tos [][]string) error {
	f.record("copy")
	return nil
}

func (f *fakeSession) Delete(ctx context.Context, folder []string, ids [][]byte) error {
	f.record("delete")
	return nil
}

func (f *fakeSession) MessageCount(ctx context.Context, folder []string) (int, error) {
	f.record("count")
	return len(f.listings[string(message.PathKey(folder))]), nil
}

func (f *fakeSession) Noop(ctx context.Context) error {
	f.record("noop")
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*message.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg *message.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

type fakeLocal struct {
	ids     map[string][][]byte
	read    map[string]bool
	cursors map[string][]byte
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		ids:     make(map[string][][]byte),
		read:    make(map[string]bool),
		cursors: make(map[string][]byte),
	}
}

func (f *fakeLocal) FolderIDs(folder []string) ([][]byte, error) {
	return f.ids[string(message.PathKey(folder))], nil
}

func (f *fakeLocal) IsRead(id []byte) (bool, error) {
	return f.read[string(id)], nil
}

func (f *fakeLocal) Cursor(folder []string) ([]byte, error) {
	return f.cursors[string(message.PathKey(folder))], nil
}

func testAccount() *Account {
	return New(config.Account{
		Name:     "test",
		IMAPAddr: "imap.example.com:993",
		SMTPAddr: "smtp.example.com:465",
		Username: "user",
		Password: "secret",
	})
}

func newTestWorker(sess Session, sender Sender, local LocalState) (*Worker, chan Event) {
	events := make(chan Event, 128)
	w := NewWorker(testAccount(), sess, sender, local, events, zerolog.Nop())
	return w, events
}

func drainEvents(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ids(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func refs(rs ...MessageRef) []MessageRef {
	return rs
}

func syncTask(folders ...[]string) task.Item {
	item := task.New(task.KindSynchronize)
	item.Folders = folders
	return item
}

func eventsOfType[T Event](evs []Event) []T {
	var out []T
	for _, ev := range evs {
		if t, ok := ev.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestDiffFolderAdded(t *testing.T) {
	remote := refs(
		MessageRef{ID: []byte("a")},
		MessageRef{ID: []byte("b")},
		MessageRef{ID: []byte("c")},
	)
	d := diffFolder(remote, ids("a", "b"), func([]byte) (bool, error) { return false, nil }, true)
	assert.Equal(t, ids("c"), d.added)
	assert.Empty(t, d.removed)
	assert.Empty(t, d.updated)
}

func TestDiffFolderRemoved(t *testing.T) {
	remote := refs(MessageRef{ID: []byte("a")})
	d := diffFolder(remote, ids("a", "b"), func([]byte) (bool, error) { return false, nil }, true)
	assert.Empty(t, d.added)
	assert.Equal(t, ids("b"), d.removed)
}

func TestDiffFolderPartialSkipsRemoved(t *testing.T) {
	// A partial listing proves nothing about what is gone.
	d := diffFolder(nil, ids("a", "b"), func([]byte) (bool, error) { return false, nil }, false)
	assert.Empty(t, d.removed)
}

func TestDiffFolderUpdatedReadFlag(t *testing.T) {
	remote := refs(
		MessageRef{ID: []byte("a"), Read: true},
		MessageRef{ID: []byte("b"), Read: false},
	)
	isRead := func(id []byte) (bool, error) { return false, nil }
	d := diffFolder(remote, ids("a", "b"), isRead, true)
	assert.Equal(t, ids("a"), d.updated)
}

func TestDiffFolderStable(t *testing.T) {
	remote := refs(MessageRef{ID: []byte("a"), Read: true})
	isRead := func(id []byte) (bool, error) { return true, nil }
	d := diffFolder(remote, ids("a"), isRead, true)
	assert.Empty(t, d.added)
	assert.Empty(t, d.removed)
	assert.Empty(t, d.updated)
}

func TestSynchronizeEmitsAddedHeaders(t *testing.T) {
	sess := newFakeSession()
	key := string(message.PathKey(message.Inbox))
	sess.listings[key] = refs(
		MessageRef{ID: []byte("a")},
		MessageRef{ID: []byte("b")},
		MessageRef{ID: []byte("c")},
	)
	sess.cursors[key] = []byte("3")
	local := newFakeLocal()
	local.ids[key] = ids("a", "b")

	w, events := newTestWorker(sess, &fakeSender{}, local)
	w.Execute(context.Background(), syncTask(message.Inbox))

	evs := drainEvents(events)
	require.Len(t, eventsOfType[FoldersEvent](evs), 1)
	headers := eventsOfType[HeadersEvent](evs)
	require.Len(t, headers, 1)
	require.Len(t, headers[0].Messages, 1)
	assert.Equal(t, []byte("c"), headers[0].Messages[0].ID)

	finished := eventsOfType[SyncFinishedEvent](evs)
	require.Len(t, finished, 1)
	assert.Equal(t, []byte("3"), finished[0].LastID)
	assert.Equal(t, StateReady, w.State())
}

func TestSynchronizeEmitsRemoved(t *testing.T) {
	sess := newFakeSession()
	key := string(message.PathKey(message.Inbox))
	sess.listings[key] = refs(MessageRef{ID: []byte("a")})
	local := newFakeLocal()
	local.ids[key] = ids("a", "b")

	w, events := newTestWorker(sess, &fakeSender{}, local)
	w.Execute(context.Background(), syncTask(message.Inbox))

	removed := eventsOfType[RemovedEvent](drainEvents(events))
	require.Len(t, removed, 1)
	assert.Equal(t, ids("b"), removed[0].IDs)
}

func TestSynchronizeTwiceIsQuiet(t *testing.T) {
	sess := newFakeSession()
	key := string(message.PathKey(message.Inbox))
	sess.listings[key] = refs(MessageRef{ID: []byte("a")}, MessageRef{ID: []byte("b")})
	local := newFakeLocal()
	local.ids[key] = ids("a", "b")

	w, events := newTestWorker(sess, &fakeSender{}, local)
	w.Execute(context.Background(), syncTask(message.Inbox))
	w.Execute(context.Background(), syncTask(message.Inbox))

	evs := drainEvents(events)
	assert.Empty(t, eventsOfType[HeadersEvent](evs))
	assert.Empty(t, eventsOfType[RemovedEvent](evs))
	assert.Empty(t, eventsOfType[UpdatedEvent](evs))
	assert.Len(t, eventsOfType[SyncFinishedEvent](evs), 2)
}

func TestSynchronizeIncrementalUsesStoredCursor(t *testing.T) {
	sess := newFakeSession()
	inboxKey := string(message.PathKey(message.Inbox))
	sentKey := string(message.PathKey([]string{"Sent"}))
	sess.partials[inboxKey] = refs(MessageRef{ID: []byte("new")})
	sess.listings[sentKey] = refs(MessageRef{ID: []byte("s1")})
	local := newFakeLocal()
	local.ids[inboxKey] = ids("old")
	local.cursors[inboxKey] = []byte("7")

	w, events := newTestWorker(sess, &fakeSender{}, local)
	w.Execute(context.Background(), syncTask(message.Inbox, []string{"Sent"}))

	evs := drainEvents(events)
	// "old" is absent from the partial listing but must not be reported
	// removed.
	assert.Empty(t, eventsOfType[RemovedEvent](evs))
	headers := eventsOfType[HeadersEvent](evs)
	require.Len(t, headers, 2)
	assert.Equal(t, []byte("new"), headers[0].Messages[0].ID)
}

func TestSynchronizeLargeBacklogStreamsInChunks(t *testing.T) {
	sess := newFakeSession()
	key := string(message.PathKey(message.Inbox))
	for i := 0; i < 250; i++ {
		sess.listings[key] = append(sess.listings[key],
			MessageRef{ID: []byte(fmt.Sprintf("<m%03d@example.com>", i))})
	}

	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())
	w.Execute(context.Background(), syncTask(message.Inbox))

	evs := drainEvents(events)
	headers := eventsOfType[HeadersEvent](evs)
	require.Len(t, headers, 3)
	assert.Len(t, headers[0].Messages, 100)
	assert.Len(t, headers[2].Messages, 50)

	progress := eventsOfType[ProgressEvent](evs)
	require.Len(t, progress, 3)
	assert.Equal(t, 100, progress[0].Done)
	assert.Equal(t, 250, progress[0].Total)
	assert.Equal(t, 250, progress[2].Done)
}

func TestSynchronizeFolderFailureContinuesBatch(t *testing.T) {
	sess := newFakeSession()
	badKey := string(message.PathKey([]string{"Broken"}))
	goodKey := string(message.PathKey([]string{"Good"}))
	sess.folderErrs[badKey] = newError(ErrProtocol, "select", errors.New("no such mailbox"))
	sess.listings[goodKey] = refs(MessageRef{ID: []byte("g")})
	local := newFakeLocal()

	w, events := newTestWorker(sess, &fakeSender{}, local)
	w.Execute(context.Background(), syncTask([]string{"Broken"}, []string{"Good"}))

	evs := drainEvents(events)
	require.Len(t, eventsOfType[ErrorEvent](evs), 1)
	finished := eventsOfType[SyncFinishedEvent](evs)
	require.Len(t, finished, 1)
	assert.Equal(t, []string{"Good"}, finished[0].Folder)
	assert.Equal(t, StateReady, w.State())
}

func TestSynchronizeConnectionFailureAbortsBatch(t *testing.T) {
	sess := newFakeSession()
	badKey := string(message.PathKey([]string{"Broken"}))
	goodKey := string(message.PathKey([]string{"Good"}))
	sess.folderErrs[badKey] = newError(ErrConnection, "list", errors.New("broken pipe"))
	sess.listings[goodKey] = refs(MessageRef{ID: []byte("g")})

	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())
	w.Execute(context.Background(), syncTask([]string{"Broken"}, []string{"Good"}))

	evs := drainEvents(events)
	require.Len(t, eventsOfType[ErrorEvent](evs), 1)
	assert.Empty(t, eventsOfType[SyncFinishedEvent](evs))
	assert.Equal(t, StateDisconnected, w.State())
	assert.Equal(t, 1, sess.closed)
}

func TestDialFailureEmitsConnectionError(t *testing.T) {
	sess := newFakeSession()
	sess.dialErr = newError(ErrConnection, "dial", errors.New("refused"))

	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())
	w.Execute(context.Background(), syncTask(message.Inbox))

	errs := eventsOfType[ErrorEvent](drainEvents(events))
	require.Len(t, errs, 1)
	kind, ok := KindOf(errs[0].Err)
	assert.True(t, ok)
	assert.Equal(t, ErrConnection, kind)
	assert.Equal(t, StateDisconnected, w.State())
}

func TestLoginFailureClassifiedAsAuthentication(t *testing.T) {
	sess := newFakeSession()
	sess.loginErr = newError(ErrAuthentication, "login", errors.New("bad credentials"))

	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())
	w.Execute(context.Background(), syncTask(message.Inbox))

	errs := eventsOfType[ErrorEvent](drainEvents(events))
	require.Len(t, errs, 1)
	kind, _ := KindOf(errs[0].Err)
	assert.Equal(t, ErrAuthentication, kind)
	assert.Equal(t, StateDisconnected, w.State())
}

func TestConnectionReusedAcrossTasks(t *testing.T) {
	sess := newFakeSession()
	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())

	w.Execute(context.Background(), syncTask(message.Inbox))
	w.Execute(context.Background(), syncTask(message.Inbox))
	drainEvents(events)

	var dials int
	for _, call := range sess.recorded() {
		if call == "dial" {
			dials++
		}
	}
	assert.Equal(t, 1, dials)
}

func TestFetchMessageEmitsBody(t *testing.T) {
	sess := newFakeSession()
	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())

	item := task.New(task.KindFetchMessage)
	item.Folder = message.Inbox
	item.MessageIDs = ids("a")
	w.Execute(context.Background(), item)

	bodies := eventsOfType[BodyEvent](drainEvents(events))
	require.Len(t, bodies, 1)
	assert.Equal(t, "hello", bodies[0].Message.Body)
}

func TestDeleteEmitsRemoved(t *testing.T) {
	sess := newFakeSession()
	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())

	item := task.New(task.KindDeleteMessages)
	item.Folder = message.Inbox
	item.MessageIDs = ids("a", "b")
	w.Execute(context.Background(), item)

	removed := eventsOfType[RemovedEvent](drainEvents(events))
	require.Len(t, removed, 1)
	assert.Equal(t, ids("a", "b"), removed[0].IDs)
}

func TestSetReadEmitsReadStatus(t *testing.T) {
	sess := newFakeSession()
	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())

	item := task.New(task.KindSetReadStatus)
	item.Folder = message.Inbox
	item.MessageIDs = ids("a")
	item.Read = true
	w.Execute(context.Background(), item)

	rs := eventsOfType[ReadStatusEvent](drainEvents(events))
	require.Len(t, rs, 1)
	assert.True(t, rs[0].Read)
	assert.Equal(t, ids("a"), rs[0].IDs)
}

func TestGetMessageCountCallsBack(t *testing.T) {
	sess := newFakeSession()
	key := string(message.PathKey(message.Inbox))
	sess.listings[key] = refs(MessageRef{ID: []byte("a")}, MessageRef{ID: []byte("b")})
	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())

	var got int
	item := task.New(task.KindGetMessageCount)
	item.Folder = message.Inbox
	item.CountFn = func(n int) { got = n }
	w.Execute(context.Background(), item)
	drainEvents(events)

	assert.Equal(t, 2, got)
}

func TestSendMessageBypassesSession(t *testing.T) {
	sess := newFakeSession()
	sender := &fakeSender{}
	w, events := newTestWorker(sess, sender, newFakeLocal())

	item := task.New(task.KindSendMessage)
	item.Message = &message.Message{
		ID:      []byte("<out@example.com>"),
		Subject: "hi",
	}
	w.Execute(context.Background(), item)

	sent := eventsOfType[SentEvent](drainEvents(events))
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Message.Subject)
	// Submission must not have opened a store session.
	assert.Empty(t, sess.recorded())
	assert.Equal(t, StateDisconnected, w.State())
}

func TestSendFailureEmitsClassifiedError(t *testing.T) {
	sess := newFakeSession()
	sender := &fakeSender{err: errors.New("relay refused")}
	w, events := newTestWorker(sess, sender, newFakeLocal())

	item := task.New(task.KindSendMessage)
	item.Message = &message.Message{ID: []byte("<out@example.com>")}
	w.Execute(context.Background(), item)

	errs := eventsOfType[ErrorEvent](drainEvents(events))
	require.Len(t, errs, 1)
	_, classified := KindOf(errs[0].Err)
	assert.True(t, classified, "send failures carry an error kind like every other task")
	assert.Empty(t, sess.recorded())
}

func TestNoopWhileDisconnectedIsSkipped(t *testing.T) {
	sess := newFakeSession()
	w, events := newTestWorker(sess, &fakeSender{}, newFakeLocal())

	w.Execute(context.Background(), task.New(task.KindNoop))

	assert.Empty(t, drainEvents(events))
	assert.Empty(t, sess.recorded())
}
