// Package service wires the configured accounts, storage and hub into a
// running environment.
package service

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mailhoard/mailhoard/pkg/account"
	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/hub"
	"github.com/mailhoard/mailhoard/pkg/mailmodel"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/storage"
	"github.com/mailhoard/mailhoard/pkg/storage/file"
	"github.com/mailhoard/mailhoard/pkg/task"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Number of hub updates replayed to new listeners.
const hubHistoryLen = 100

// sentFolder receives local copies of submitted messages.
var sentFolder = []string{"Sent"}

// Runtime is one account's live machinery.
type Runtime struct {
	Account *account.Account
	Thread  *account.Thread

	modelsMu sync.Mutex
	models   map[string]*mailmodel.Model
}

// Model returns the header-row projection for folder, creating it on first
// use.
func (r *Runtime) Model(folder []string) *mailmodel.Model {
	key := string(message.PathKey(folder))
	r.modelsMu.Lock()
	defer r.modelsMu.Unlock()
	m, ok := r.models[key]
	if !ok {
		m = mailmodel.New(folder)
		r.models[key] = m
	}
	return m
}

// Service holds the started environment: the store, the hub and one thread
// per configured account.
type Service struct {
	conf     *config.Root
	store    storage.Store
	hub      *hub.Hub
	runtimes map[string]*Runtime

	cancel    context.CancelFunc
	consumers sync.WaitGroup
	loops     sync.WaitGroup
}

// Prod wires up the production environment: file store, hub, a session and
// thread per roster account.  Threads are created but not started; call
// Start.
func Prod(conf *config.Root) (*Service, error) {
	store, err := file.New(conf.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "opening storage")
	}

	roster, err := config.LoadAccounts(conf.Accounts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := &Service{
		conf:     conf,
		store:    store,
		hub:      hub.New(hubHistoryLen),
		runtimes: make(map[string]*Runtime),
	}
	for _, ac := range roster {
		acc := account.New(ac)
		local := &localState{store: store, account: acc.ID}
		session := account.NewIMAPSession(acc, conf.IMAP,
			account.SystemVerifier(hostOf(ac.IMAPAddr)), log.Logger)
		sender := account.NewSMTPSender(acc, conf.SMTP,
			account.SystemVerifier(hostOf(ac.SMTPAddr)), log.Logger)
		svc.runtimes[acc.Name] = &Runtime{
			Account: acc,
			Thread:  account.NewThread(acc, conf.IMAP, session, sender, local, log.Logger),
			models:  make(map[string]*mailmodel.Model),
		}
	}
	return svc, nil
}

// Hub exposes the update fan-out for listeners.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Store exposes the message store for read-side queries.
func (s *Service) Store() storage.Store {
	return s.store
}

// Runtime returns the runtime for the named account, nil when unknown.
func (s *Service) Runtime(name string) *Runtime {
	return s.runtimes[name]
}

// Start launches the hub, one thread and one event consumer per account,
// and the periodic sync ticker.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.hub.Start(ctx)

	for _, rt := range s.runtimes {
		rt.Thread.Start(ctx)
		s.consumers.Add(1)
		go func(rt *Runtime) {
			defer s.consumers.Done()
			s.consume(rt)
		}(rt)
	}

	if s.conf.IMAP.SyncPeriod > 0 {
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			s.syncLoop(ctx)
		}()
	}
}

// SyncAll enqueues a sync of each account's configured folders.
func (s *Service) SyncAll() {
	for _, rt := range s.runtimes {
		s.SyncAccount(rt, nil)
	}
}

// SyncAccount enqueues a sync task.  With nil folders the account's
// configured folder set is synced, each folder resuming from its stored
// cursor.
func (s *Service) SyncAccount(rt *Runtime, folders [][]string) {
	item := task.New(task.KindSynchronize)
	if folders == nil {
		folders = rt.Account.SyncFolders()
	}
	item.Folders = folders
	rt.Thread.AddTask(item)
}

// Send enqueues submission of an outgoing message on the account's thread.
func (s *Service) Send(rt *Runtime, msg *message.Message) {
	item := task.New(task.KindSendMessage)
	item.Message = msg
	rt.Thread.AddTask(item)
}

// Drain stops every thread, waits for the consumers to apply remaining
// events, then stops the hub and closes the store.  The hub outlives the
// consumers so their final dispatches land.
func (s *Service) Drain() {
	var stops sync.WaitGroup
	for _, rt := range s.runtimes {
		stops.Add(1)
		go func(rt *Runtime) {
			defer stops.Done()
			rt.Thread.Stop()
		}(rt)
	}
	stops.Wait()
	s.consumers.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	s.loops.Wait()
	if err := s.store.Close(); err != nil {
		log.Error().Str("module", "service").Err(err).Msg("Closing storage")
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (s *Service) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.conf.IMAP.SyncPeriod)
	defer ticker.Stop()
	s.SyncAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll()
		}
	}
}

// consume applies one account's worker events to storage and the row
// models, then rebroadcasts them on the hub.  Storage is written before the
// dispatch so listeners always observe persisted state.
func (s *Service) consume(rt *Runtime) {
	accID := rt.Account.ID
	logger := log.With().Str("module", "service").Str("account", rt.Account.Name).Logger()
	for ev := range rt.Thread.Events() {
		switch e := ev.(type) {
		case account.HeadersEvent:
			if err := s.store.SaveMessages(accID, e.Messages); err != nil {
				logger.Error().Err(err).Msg("Persisting synced headers")
				continue
			}
			rt.Model(e.Folder).ApplyAdded(e.Messages)
		case account.UpdatedEvent:
			if err := s.store.SaveMessages(accID, e.Messages); err != nil {
				logger.Error().Err(err).Msg("Persisting updated headers")
				continue
			}
			rt.Model(e.Folder).ApplyUpdated(e.Messages)
		case account.RemovedEvent:
			s.applyRemoved(logger, rt, accID, e)
		case account.ReadStatusEvent:
			for _, id := range e.IDs {
				if err := s.store.SetRead(accID, id, e.Read); err != nil {
					logger.Error().Err(err).Hex("id", id).Msg("Persisting read flag")
				}
			}
			rt.Model(e.Folder).SetRead(e.IDs, e.Read)
		case account.BodyEvent:
			if err := s.store.SaveMessages(accID, []*message.Message{e.Message}); err != nil {
				logger.Error().Err(err).Msg("Persisting fetched body")
			}
		case account.SentEvent:
			sent := *e.Message
			sent.Kind = message.KindSent
			sent.Read = true
			sent.Folders = [][]string{sentFolder}
			if err := s.store.SaveMessages(accID, []*message.Message{&sent}); err != nil {
				logger.Error().Err(err).Msg("Persisting sent message")
			}
			rt.Model(sentFolder).ApplyAdded([]*message.Message{&sent})
		case account.SyncFinishedEvent:
			if err := s.store.SaveFolderCursor(accID, e.Folder, e.LastID); err != nil {
				logger.Error().Err(err).Msg("Persisting folder cursor")
			}
		case account.FoldersEvent:
			for _, f := range e.Folders {
				rt.Model(f.Path)
			}
		case account.ErrorEvent:
			logger.Warn().Err(e.Err).Msg("Account task failed")
		}
		s.hub.Dispatch(hub.Update{Account: rt.Account.Name, Event: ev})
	}
}

// applyRemoved drops folder memberships and deletes the blob once no
// membership remains.
func (s *Service) applyRemoved(logger zerolog.Logger, rt *Runtime, accID string, e account.RemovedEvent) {
	for _, id := range e.IDs {
		if err := s.store.RemoveFromFolder(accID, id, e.Folder); err != nil {
			logger.Error().Err(err).Hex("id", id).Msg("Removing folder membership")
			continue
		}
		left, err := s.store.MessageFolders(accID, id)
		if err != nil {
			logger.Error().Err(err).Hex("id", id).Msg("Listing remaining memberships")
			continue
		}
		if len(left) == 0 {
			if err := s.store.RemoveMessage(accID, id); err != nil {
				logger.Error().Err(err).Hex("id", id).Msg("Deleting orphaned message")
			}
		}
	}
	rt.Model(e.Folder).ApplyRemoved(e.IDs)
}
