// Package file implements a Store backed by compressed message blobs in a
// sharded directory tree plus a per-account SQLite membership index.
package file

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/storage"
	"github.com/rs/zerolog/log"
)

// Name of the relational index file in each account directory.
const indexFileName = "msgs.db"

// Length of the hex suffix naming a shard directory.  256^1.5 directories
// bound the file count per directory to a small share of the account total.
const shardSuffixLen = 3

// Store is the root of the on-disk mail hierarchy: one directory per account
// named by its hex ID, sharded blob subdirectories inside, and msgs.db next
// to them.
type Store struct {
	rootPath string
	hashLock storage.HashLock

	basesMu sync.Mutex
	bases   map[string]*index // account ID -> open index

	cacheMu   sync.Mutex
	readCache map[string]map[string]bool // account ID -> hex msg ID -> read
}

// New creates a Store rooted at the configured path.
func New(cfg config.Storage) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage 'path' parameter not specified")
	}
	if err := os.MkdirAll(cfg.Path, 0o770); err != nil {
		log.Error().Str("module", "storage").Str("path", cfg.Path).Err(err).
			Msg("Error creating store root")
		return nil, err
	}
	return &Store{
		rootPath:  cfg.Path,
		bases:     make(map[string]*index),
		readCache: make(map[string]map[string]bool),
	}, nil
}

// SaveMessages persists every message carrying a non-empty ID.  The folder
// index is updated first, then the blob is written, then the read-state
// cache.  A failing message is logged and skipped, the batch continues.
func (fs *Store) SaveMessages(account string, msgs []*message.Message) error {
	if l := fs.hashLock.Get(account); l != nil {
		l.Lock()
		defer l.Unlock()
	}

	dir, err := fs.accountDir(account)
	if err != nil {
		return err
	}
	idx, err := fs.indexFor(account)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if len(msg.ID) == 0 {
			continue
		}
		if err := idx.addToFolders(msg); err != nil {
			log.Warn().Str("module", "storage").Str("id", msg.HexID()).Err(err).
				Msg("Failed to index message folders")
		}
		if err := writeBlob(dir, msg); err != nil {
			log.Warn().Str("module", "storage").Str("id", msg.HexID()).Err(err).
				Msg("Failed to write message blob")
			continue
		}
		fs.cacheRead(account, msg)
	}
	return nil
}

// LoadMessages deserializes every blob under the account directory.  Corrupt
// files are logged and skipped, never fatal to the scan.
func (fs *Store) LoadMessages(account string) ([]*message.Message, error) {
	if l := fs.hashLock.Get(account); l != nil {
		l.RLock()
		defer l.RUnlock()
	}

	dir, err := fs.accountDir(account)
	if err != nil {
		return nil, err
	}

	var msgs []*message.Message
	err = fs.walkBlobs(dir, func(path string, id []byte) {
		blob, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Str("module", "storage").Str("path", path).Err(err).
				Msg("Unable to read message file")
			return
		}
		msg, err := message.Deserialize(blob)
		if err != nil {
			log.Warn().Str("module", "storage").Str("path", path).Err(err).
				Msg("Skipping corrupt message file")
			return
		}
		fs.cacheRead(account, msg)
		msgs = append(msgs, msg)
	})
	return msgs, err
}

// LoadMessage fetches one message by deriving its shard path from the ID.
func (fs *Store) LoadMessage(account string, id []byte) (*message.Message, error) {
	if l := fs.hashLock.Get(account); l != nil {
		l.RLock()
		defer l.RUnlock()
	}
	return fs.loadMessageLocked(account, id)
}

func (fs *Store) loadMessageLocked(account string, id []byte) (*message.Message, error) {
	dir, err := fs.accountDir(account)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(blobPath(dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("message %q: %w", hex.EncodeToString(id), storage.ErrNotExist)
		}
		return nil, err
	}
	msg, err := message.Deserialize(blob)
	if err != nil {
		return nil, fmt.Errorf("message %q: %w: %v", hex.EncodeToString(id), storage.ErrCorrupt, err)
	}
	fs.cacheRead(account, msg)
	return msg, nil
}

// LoadIDs enumerates every stored message ID via a directory walk.
func (fs *Store) LoadIDs(account string) ([][]byte, error) {
	if l := fs.hashLock.Get(account); l != nil {
		l.RLock()
		defer l.RUnlock()
	}

	dir, err := fs.accountDir(account)
	if err != nil {
		return nil, err
	}
	var ids [][]byte
	err = fs.walkBlobs(dir, func(path string, id []byte) {
		ids = append(ids, id)
	})
	return ids, err
}

// FolderIDs lists the folder's message IDs from the relational index.  This
// is the hot path for folder views; it never touches the blob tree.
func (fs *Store) FolderIDs(account string, folder []string) ([][]byte, error) {
	idx, err := fs.indexFor(account)
	if err != nil {
		return nil, err
	}
	return idx.folderIDs(folder)
}

// MessageFolders returns the folders a message belongs to.
func (fs *Store) MessageFolders(account string, id []byte) ([][]string, error) {
	idx, err := fs.indexFor(account)
	if err != nil {
		return nil, err
	}
	return idx.messageFolders(id)
}

// RemoveMessage detaches the message from every index row and deletes its
// backing file.
func (fs *Store) RemoveMessage(account string, id []byte) error {
	if l := fs.hashLock.Get(account); l != nil {
		l.Lock()
		defer l.Unlock()
	}

	idx, err := fs.indexFor(account)
	if err != nil {
		return err
	}
	if err := idx.removeMessage(id); err != nil {
		return err
	}
	dir, err := fs.accountDir(account)
	if err != nil {
		return err
	}
	if err := os.Remove(blobPath(dir, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	fs.dropCached(account, id)
	return nil
}

// RemoveFromFolder drops one folder membership row pair; the blob stays until
// the last membership is gone and a full RemoveMessage is issued.
func (fs *Store) RemoveFromFolder(account string, id []byte, folder []string) error {
	idx, err := fs.indexFor(account)
	if err != nil {
		return err
	}
	return idx.removeFromFolder(id, folder)
}

// IsMessageRead serves the read flag from cache, falling back to a full load
// on a miss.  The cache is populated lazily by every load and save.
func (fs *Store) IsMessageRead(account string, id []byte) (bool, error) {
	fs.cacheMu.Lock()
	if acct, ok := fs.readCache[account]; ok {
		if read, ok := acct[hex.EncodeToString(id)]; ok {
			fs.cacheMu.Unlock()
			return read, nil
		}
	}
	fs.cacheMu.Unlock()

	msg, err := fs.LoadMessage(account, id)
	if err != nil {
		return false, err
	}
	return msg.Read, nil
}

// SetRead rewrites the message blob with the new read flag.
func (fs *Store) SetRead(account string, id []byte, read bool) error {
	if l := fs.hashLock.Get(account); l != nil {
		l.Lock()
		defer l.Unlock()
	}

	msg, err := fs.loadMessageLocked(account, id)
	if err != nil {
		return err
	}
	if msg.Read == read {
		return nil
	}
	msg.Read = read
	dir, err := fs.accountDir(account)
	if err != nil {
		return err
	}
	if err := writeBlob(dir, msg); err != nil {
		return err
	}
	fs.cacheRead(account, msg)
	return nil
}

// SaveFolderCursor persists the folder's incremental sync marker.
func (fs *Store) SaveFolderCursor(account string, folder []string, cursor []byte) error {
	idx, err := fs.indexFor(account)
	if err != nil {
		return err
	}
	return idx.saveCursor(folder, cursor)
}

// LoadFolderCursor returns the saved marker, nil when none exists.
func (fs *Store) LoadFolderCursor(account string, folder []string) ([]byte, error) {
	idx, err := fs.indexFor(account)
	if err != nil {
		return nil, err
	}
	return idx.loadCursor(folder)
}

// Close releases every open index database.
func (fs *Store) Close() error {
	fs.basesMu.Lock()
	defer fs.basesMu.Unlock()
	var firstErr error
	for account, idx := range fs.bases {
		if err := idx.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.bases, account)
	}
	return firstErr
}

// accountDir returns the account's directory, creating it when missing.
func (fs *Store) accountDir(account string) (string, error) {
	dir := filepath.Join(fs.rootPath, account)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("creating account dir: %w", err)
	}
	return dir, nil
}

// indexFor opens the account's msgs.db once and caches the handle.  The
// database layer serializes concurrent statements itself; no extra lock is
// taken here.
func (fs *Store) indexFor(account string) (*index, error) {
	fs.basesMu.Lock()
	defer fs.basesMu.Unlock()
	if idx, ok := fs.bases[account]; ok {
		return idx, nil
	}
	dir, err := fs.accountDir(account)
	if err != nil {
		return nil, err
	}
	idx, err := openIndex(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}
	fs.bases[account] = idx
	return idx, nil
}

// walkBlobs visits every message file below the account dir, decoding the
// hex file name into an ID.  Non-hex names (msgs.db and friends) and
// unreadable shard dirs are skipped with a log entry.
func (fs *Store) walkBlobs(dir string, visit func(path string, id []byte)) error {
	shards, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(dir, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			log.Warn().Str("module", "storage").Str("path", shardPath).Err(err).
				Msg("Unable to read shard dir")
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			id, err := hex.DecodeString(f.Name())
			if err != nil {
				continue
			}
			visit(filepath.Join(shardPath, f.Name()), id)
		}
	}
	return nil
}

func (fs *Store) cacheRead(account string, msg *message.Message) {
	fs.cacheMu.Lock()
	defer fs.cacheMu.Unlock()
	acct, ok := fs.readCache[account]
	if !ok {
		acct = make(map[string]bool)
		fs.readCache[account] = acct
	}
	acct[msg.HexID()] = msg.Read
}

func (fs *Store) dropCached(account string, id []byte) {
	fs.cacheMu.Lock()
	defer fs.cacheMu.Unlock()
	if acct, ok := fs.readCache[account]; ok {
		delete(acct, hex.EncodeToString(id))
	}
}

// shardName derives the shard directory from the hex ID suffix.
func shardName(hexID string) string {
	if len(hexID) <= shardSuffixLen {
		return hexID
	}
	return hexID[len(hexID)-shardSuffixLen:]
}

// blobPath is rootPath/account/shard/hexID.
func blobPath(accountDir string, id []byte) string {
	hexID := hex.EncodeToString(id)
	return filepath.Join(accountDir, shardName(hexID), hexID)
}

// writeBlob serializes and writes one message under its shard directory.
func writeBlob(accountDir string, msg *message.Message) error {
	blob, err := msg.Serialize()
	if err != nil {
		return err
	}
	path := blobPath(accountDir, msg.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return fmt.Errorf("creating shard dir: %w", err)
	}
	return os.WriteFile(path, blob, 0o660)
}

var _ storage.Store = (*Store)(nil)
