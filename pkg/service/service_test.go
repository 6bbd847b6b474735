package service

import (
	"context"
	"testing"
	"time"

	"github.com/mailhoard/mailhoard/pkg/account"
	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/hub"
	"github.com/mailhoard/mailhoard/pkg/mailmodel"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/storage/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSession serves a single canned folder listing.
type scriptedSession struct {
	folder []string
	refs   []account.MessageRef
	cursor []byte
}

func (s *scriptedSession) Dial(ctx context.Context) error  { return nil }
func (s *scriptedSession) Login(ctx context.Context) error { return nil }
func (s *scriptedSession) Close() error                    { return nil }

func (s *scriptedSession) ListFolders(ctx context.Context) ([]message.Folder, error) {
	return []message.Folder{{Path: s.folder, Messages: len(s.refs)}}, nil
}

func (s *scriptedSession) ListMessages(ctx context.Context, folder []string, since []byte) ([]account.MessageRef, []byte, error) {
	if !message.PathEqual(folder, s.folder) {
		return nil, nil, nil
	}
	return s.refs, s.cursor, nil
}

func (s *scriptedSession) FetchHeaders(ctx context.Context, folder []string, ids [][]byte) ([]*message.Message, error) {
	var out []*message.Message
	for i, id := range ids {
		out = append(out, &message.Message{
			ID:      id,
			Subject: string(id),
			Date:    time.Date(2024, time.March, i+1, 0, 0, 0, 0, time.UTC),
			Folders: [][]string{folder},
		})
	}
	return out, nil
}

func (s *scriptedSession) FetchMessage(ctx context.Context, folder []string, id []byte) (*message.Message, error) {
	return &message.Message{ID: id, Folders: [][]string{folder}}, nil
}

func (s *scriptedSession) FetchAttachment(ctx context.Context, folder []string, id []byte, partID, destPath string) error {
	return nil
}

func (s *scriptedSession) SetRead(ctx context.Context, folder []string, ids [][]byte, read bool) error {
	return nil
}

func (s *scriptedSession) Copy(ctx context.Context, ids [][]byte, from []string, tos [][]string) error {
	return nil
}

func (s *scriptedSession) Delete(ctx context.Context, folder []string, ids [][]byte) error {
	return nil
}

func (s *scriptedSession) MessageCount(ctx context.Context, folder []string) (int, error) {
	return len(s.refs), nil
}

func (s *scriptedSession) Noop(ctx context.Context) error { return nil }

type nopSender struct{}

func (nopSender) Send(ctx context.Context, msg *message.Message) error { return nil }

// doneListener closes done when it has seen a sync-finished update.
type doneListener struct {
	done chan struct{}
}

func (l *doneListener) Receive(up hub.Update) error {
	if _, ok := up.Event.(account.SyncFinishedEvent); ok {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
	return nil
}

func newTestService(t *testing.T, sess account.Session) (*Service, *Runtime) {
	t.Helper()
	store, err := file.New(config.Storage{Path: t.TempDir()})
	require.NoError(t, err)

	conf := &config.Root{
		IMAP: config.IMAP{
			DialTimeout:     time.Second,
			KeepAlivePeriod: time.Hour,
			StopGrace:       time.Second,
			FolderCacheSize: 4,
		},
	}
	acc := account.New(config.Account{
		Name:     "svc-test",
		IMAPAddr: "imap.example.com:993",
		SMTPAddr: "smtp.example.com:465",
		Username: "user",
		Password: "secret",
	})
	local := &localState{store: store, account: acc.ID}
	rt := &Runtime{
		Account: acc,
		Thread:  account.NewThread(acc, conf.IMAP, sess, nopSender{}, local, zerolog.Nop()),
		models:  make(map[string]*mailmodel.Model),
	}
	svc := &Service{
		conf:     conf,
		store:    store,
		hub:      hub.New(16),
		runtimes: map[string]*Runtime{acc.Name: rt},
	}
	return svc, rt
}

func TestServiceSyncPersistsAndProjects(t *testing.T) {
	sess := &scriptedSession{
		folder: message.Inbox,
		refs: []account.MessageRef{
			{ID: []byte("<m1@example.com>")},
			{ID: []byte("<m2@example.com>"), Read: true},
		},
		cursor: []byte("42"),
	}
	svc, rt := newTestService(t, sess)
	svc.Start(context.Background())
	defer svc.Drain()

	listener := &doneListener{done: make(chan struct{})}
	svc.Hub().AddListener(listener)
	svc.SyncAccount(rt, nil)

	// The sync-finished update is dispatched only after the consumer has
	// persisted everything the sync produced.
	select {
	case <-listener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync-finished update before deadline")
	}

	// Blob store and folder index hold both messages.
	ids, err := svc.Store().FolderIDs(rt.Account.ID, message.Inbox)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// Cursor persisted for the next incremental run.
	cursor, err := svc.Store().LoadFolderCursor(rt.Account.ID, message.Inbox)
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), cursor)

	// Row projection reflects the listing.
	model := rt.Model(message.Inbox)
	assert.Equal(t, 2, model.Len())
	assert.Equal(t, 1, model.Unread())
}

func TestServiceRemovalPrunesOrphanBlob(t *testing.T) {
	sess := &scriptedSession{folder: message.Inbox}
	svc, rt := newTestService(t, sess)

	// Seed one message known only to the inbox.
	id := []byte("<gone@example.com>")
	require.NoError(t, svc.Store().SaveMessages(rt.Account.ID, []*message.Message{{
		ID:      id,
		Folders: [][]string{message.Inbox},
	}}))

	svc.Start(context.Background())
	defer svc.Drain()
	listener := &doneListener{done: make(chan struct{})}
	svc.Hub().AddListener(listener)

	// Full sync against an empty server listing reports the removal.
	svc.SyncAccount(rt, [][]string{message.Inbox})
	select {
	case <-listener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync-finished update before deadline")
	}

	ids, err := svc.Store().FolderIDs(rt.Account.ID, message.Inbox)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = svc.Store().LoadMessage(rt.Account.ID, id)
	assert.Error(t, err)
}
