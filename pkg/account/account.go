// Package account drives one mail account: the background worker goroutine,
// its task queue, the protocol session it owns, and the typed result events
// it emits.
package account

import (
	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/stringutil"
)

// Account describes one configured mail account.  The ID is the stable hex
// hash of the account name; the store uses it as the account directory name.
// The worker holds a plain reference to Account for credential lookups only,
// never for lifetime management.
type Account struct {
	Name string
	ID   string

	Config config.Account
}

// New derives the runtime account descriptor from its roster entry.
func New(cfg config.Account) *Account {
	return &Account{
		Name:   cfg.Name,
		ID:     stringutil.HashAccountName(cfg.Name),
		Config: cfg,
	}
}

// SyncFolders returns the folders to synchronize in serve mode, defaulting
// to INBOX.
func (a *Account) SyncFolders() [][]string {
	if len(a.Config.Folders) == 0 {
		return [][]string{{"INBOX"}}
	}
	return a.Config.Folders
}
