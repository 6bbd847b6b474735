package service

import (
	"github.com/mailhoard/mailhoard/pkg/account"
	"github.com/mailhoard/mailhoard/pkg/storage"
)

var _ account.LocalState = (*localState)(nil)

// localState binds one account's ID over the shared store, giving the
// worker the narrow diffing view it needs.
type localState struct {
	store   storage.Store
	account string
}

func (l *localState) FolderIDs(folder []string) ([][]byte, error) {
	return l.store.FolderIDs(l.account, folder)
}

func (l *localState) IsRead(id []byte) (bool, error) {
	return l.store.IsMessageRead(l.account, id)
}

func (l *localState) Cursor(folder []string) ([]byte, error) {
	return l.store.LoadFolderCursor(l.account, folder)
}
