package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/mailhoard/mailhoard/pkg/account"
	"github.com/mailhoard/mailhoard/pkg/hub"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/service"
)

type syncCmd struct {
	timeout time.Duration
}

func (*syncCmd) Name() string {
	return "sync"
}

func (*syncCmd) Synopsis() string {
	return "one-shot folder sync for one account"
}

func (*syncCmd) Usage() string {
	return `sync <account> [folder ...]:
	synchronize the named folders (default: the account's configured set),
	then exit.  Folder levels are separated by '/'.
`
}

func (s *syncCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&s.timeout, "timeout", 5*time.Minute, "Abort the sync after this long.")
}

func (s *syncCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	name := f.Arg(0)
	if name == "" {
		return usage("account name required")
	}
	var folders [][]string
	for _, arg := range f.Args()[1:] {
		folders = append(folders, strings.Split(arg, "/"))
	}

	conf, closeLog, err := loadConfig()
	if err != nil {
		return fatal("Configuration error", err)
	}
	defer closeLog()

	svc, err := service.Prod(conf)
	if err != nil {
		return fatal("Startup failed", err)
	}
	rt := svc.Runtime(name)
	if rt == nil {
		return usage(fmt.Sprintf("account %q not in roster", name))
	}
	conf.IMAP.SyncPeriod = 0 // one shot, no ticker

	rootCtx, rootCancel := context.WithCancel(ctx)
	defer rootCancel()
	svc.Start(rootCtx)

	want := len(folders)
	if want == 0 {
		want = len(rt.Account.SyncFolders())
	}
	listener := newSyncWaiter(want)
	svc.Hub().AddListener(listener)
	svc.SyncAccount(rt, folders)

	status := subcommands.ExitSuccess
	select {
	case <-listener.done:
	case <-time.After(s.timeout):
		fmt.Println("sync timed out")
		status = subcommands.ExitFailure
	}
	svc.Drain()

	for _, line := range listener.lines() {
		fmt.Println(line)
	}
	return status
}

// syncWaiter counts per-folder outcomes and remembers what happened.  Each
// folder ends in either a sync-finished update or an error; a
// connection-resetting error abandons the whole batch.
type syncWaiter struct {
	remaining int
	closed    bool
	done      chan struct{}
	out       []string
}

func newSyncWaiter(want int) *syncWaiter {
	w := &syncWaiter{remaining: want, done: make(chan struct{})}
	if want == 0 {
		w.finish()
	}
	return w
}

func (w *syncWaiter) finish() {
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}

func (w *syncWaiter) Receive(up hub.Update) error {
	switch e := up.Event.(type) {
	case account.HeadersEvent:
		w.out = append(w.out, fmt.Sprintf("%s: %d new", message.PathString(e.Folder), len(e.Messages)))
	case account.RemovedEvent:
		w.out = append(w.out, fmt.Sprintf("%s: %d removed", message.PathString(e.Folder), len(e.IDs)))
	case account.ErrorEvent:
		w.out = append(w.out, fmt.Sprintf("error: %v", e.Err))
		w.remaining--
		if kind, _ := account.KindOf(e.Err); kind.ResetsConnection() || w.remaining <= 0 {
			w.finish()
		}
	case account.SyncFinishedEvent:
		w.remaining--
		if w.remaining <= 0 {
			w.finish()
		}
	}
	return nil
}

// lines returns the collected report; safe once done is closed and the
// service drained.
func (w *syncWaiter) lines() []string {
	return w.out
}
