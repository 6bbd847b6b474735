package file

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mailhoard/mailhoard/pkg/message"
	_ "modernc.org/sqlite"
)

// Schema for the per-account msgs.db.  The forward and inverse membership
// tables must stay row-for-row consistent; every mutation touches both inside
// one transaction.  Duplicate pairs are ignored by the UNIQUE clauses, making
// inserts idempotent.
var indexSchema = []string{
	`CREATE TABLE IF NOT EXISTS folder2msg
		(folder BLOB NOT NULL, msgId BLOB NOT NULL,
		 UNIQUE (folder, msgId) ON CONFLICT IGNORE)`,
	`CREATE INDEX IF NOT EXISTS folder2msg_idx ON folder2msg (folder)`,
	`CREATE TABLE IF NOT EXISTS msg2folder
		(msgId BLOB NOT NULL, folder BLOB NOT NULL,
		 UNIQUE (msgId, folder) ON CONFLICT IGNORE)`,
	`CREATE INDEX IF NOT EXISTS msg2folder_idx ON msg2folder (msgId)`,
	`CREATE TABLE IF NOT EXISTS folder_cursor
		(folder BLOB NOT NULL PRIMARY KEY, cursor BLOB NOT NULL)`,
}

// index wraps the relational folder membership tables of one account.
type index struct {
	db *sqlx.DB
}

// openIndex opens (or creates) the account's msgs.db and ensures the schema.
func openIndex(path string) (*index, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	for _, stmt := range indexSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating index schema: %w", err)
		}
	}
	return &index{db: db}, nil
}

func (ix *index) close() error {
	return ix.db.Close()
}

// addToFolders records the message's membership in every folder it claims.
// An empty folder list defaults to INBOX.  Both tables are written in a
// single transaction so a crash can never desynchronize them.
func (ix *index) addToFolders(msg *message.Message) error {
	folders := msg.Folders
	if len(folders) == 0 {
		folders = [][]string{message.Inbox}
	}

	tx, err := ix.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, folder := range folders {
		key := message.PathKey(folder)
		if _, err := tx.Exec(
			"INSERT INTO folder2msg (folder, msgId) VALUES (?, ?)",
			key, msg.ID,
		); err != nil {
			return fmt.Errorf("inserting folder2msg row: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO msg2folder (msgId, folder) VALUES (?, ?)",
			msg.ID, key,
		); err != nil {
			return fmt.Errorf("inserting msg2folder row: %w", err)
		}
	}

	return tx.Commit()
}

// folderIDs returns every message ID recorded for the folder.
func (ix *index) folderIDs(folder []string) ([][]byte, error) {
	rows, err := ix.db.Query(
		"SELECT msgId FROM folder2msg WHERE folder = ?",
		message.PathKey(folder),
	)
	if err != nil {
		return nil, fmt.Errorf("querying folder2msg: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids [][]byte
	for rows.Next() {
		var id []byte
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning folder2msg row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// messageFolders is the reverse lookup, served by the inverse table.
func (ix *index) messageFolders(id []byte) ([][]string, error) {
	rows, err := ix.db.Query(
		"SELECT folder FROM msg2folder WHERE msgId = ?", id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying msg2folder: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var folders [][]string
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning msg2folder row: %w", err)
		}
		path, err := message.ParsePathKey(key)
		if err != nil {
			return nil, fmt.Errorf("decoding folder key: %w", err)
		}
		folders = append(folders, path)
	}
	return folders, rows.Err()
}

// removeFromFolder drops one (folder, id) pair from both tables.
func (ix *index) removeFromFolder(id []byte, folder []string) error {
	tx, err := ix.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := message.PathKey(folder)
	if _, err := tx.Exec(
		"DELETE FROM folder2msg WHERE folder = ? AND msgId = ?", key, id,
	); err != nil {
		return fmt.Errorf("deleting folder2msg row: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM msg2folder WHERE msgId = ? AND folder = ?", id, key,
	); err != nil {
		return fmt.Errorf("deleting msg2folder row: %w", err)
	}
	return tx.Commit()
}

// removeMessage detaches the message from every folder in both tables.
func (ix *index) removeMessage(id []byte) error {
	tx, err := ix.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM folder2msg WHERE msgId = ?", id); err != nil {
		return fmt.Errorf("deleting folder2msg rows: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM msg2folder WHERE msgId = ?", id); err != nil {
		return fmt.Errorf("deleting msg2folder rows: %w", err)
	}
	return tx.Commit()
}

// saveCursor upserts the folder's incremental sync marker.
func (ix *index) saveCursor(folder []string, cursor []byte) error {
	_, err := ix.db.Exec(
		"INSERT OR REPLACE INTO folder_cursor (folder, cursor) VALUES (?, ?)",
		message.PathKey(folder), cursor,
	)
	if err != nil {
		return fmt.Errorf("saving folder cursor: %w", err)
	}
	return nil
}

// loadCursor returns the saved marker, nil when the folder has none.
func (ix *index) loadCursor(folder []string) ([]byte, error) {
	var cursor []byte
	err := ix.db.Get(&cursor,
		"SELECT cursor FROM folder_cursor WHERE folder = ?",
		message.PathKey(folder),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading folder cursor: %w", err)
	}
	return cursor, nil
}
