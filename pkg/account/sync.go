package account

import (
	"context"

	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/task"
)

// headerFetchChunk bounds one header fetch round trip.
const headerFetchChunk = 100

// diffResult holds the outcome of comparing a folder's server listing
// against the local index.
type diffResult struct {
	// added are server IDs with no local counterpart.
	added [][]byte
	// removed are local IDs absent from the server listing.  Only
	// meaningful for a full listing; a partial one proves nothing about
	// what is gone.
	removed [][]byte
	// updated are IDs present on both sides whose read flag differs.
	updated [][]byte
}

// diffFolder computes the three sync sets.  isRead reports the locally
// cached read flag; full marks the remote listing as complete, enabling
// removal detection.
func diffFolder(remote []MessageRef, local [][]byte, isRead func(id []byte) (bool, error), full bool) diffResult {
	localSet := make(map[string]bool, len(local))
	for _, id := range local {
		localSet[string(id)] = true
	}

	var d diffResult
	remoteSet := make(map[string]bool, len(remote))
	for _, ref := range remote {
		remoteSet[string(ref.ID)] = true
		if !localSet[string(ref.ID)] {
			d.added = append(d.added, ref.ID)
			continue
		}
		if read, err := isRead(ref.ID); err == nil && read != ref.Read {
			d.updated = append(d.updated, ref.ID)
		}
	}
	if full {
		for _, id := range local {
			if !remoteSet[string(id)] {
				d.removed = append(d.removed, id)
			}
		}
	}
	return d
}

// synchronize refreshes the folder list and diffs each requested folder.  A
// failure in one folder is reported and the batch continues, unless the
// failure resets the connection in which case the remainder is abandoned.
func (w *Worker) synchronize(ctx context.Context, item task.Item) error {
	folders, err := w.session.ListFolders(ctx)
	if err != nil {
		return err
	}
	w.emit(FoldersEvent{Folders: folders})

	for _, folder := range defaultFolders(item.Folders) {
		if err := w.syncFolder(ctx, folder, item); err != nil {
			if kind, _ := KindOf(err); kind.ResetsConnection() {
				return err
			}
			w.logger.Warn().Err(err).Str("folder", message.PathString(folder)).
				Msg("Folder sync failed, continuing batch")
			w.emit(ErrorEvent{Err: err})
		}
	}
	return nil
}

func (w *Worker) syncFolder(ctx context.Context, folder []string, item task.Item) error {
	since := item.Since
	if since == nil && len(item.Folders) != 1 {
		cursor, err := w.local.Cursor(folder)
		if err != nil {
			return newError(ErrStorage, "load cursor", err)
		}
		since = cursor
	}

	refs, cursor, err := w.session.ListMessages(ctx, folder, since)
	if err != nil {
		return err
	}
	local, err := w.local.FolderIDs(folder)
	if err != nil {
		return newError(ErrStorage, "load folder index", err)
	}

	d := diffFolder(refs, local, w.local.IsRead, since == nil)
	w.logger.Debug().Str("folder", message.PathString(folder)).
		Int("added", len(d.added)).Int("removed", len(d.removed)).Int("updated", len(d.updated)).
		Msg("Folder diff computed")

	// New headers are fetched in chunks so a large backlog streams out
	// incrementally instead of arriving as one giant batch.
	for done := 0; done < len(d.added); done += headerFetchChunk {
		end := done + headerFetchChunk
		if end > len(d.added) {
			end = len(d.added)
		}
		msgs, err := w.session.FetchHeaders(ctx, folder, d.added[done:end])
		if err != nil {
			return err
		}
		w.emit(HeadersEvent{Folder: folder, Messages: msgs})
		w.emit(ProgressEvent{Folder: folder, Done: end, Total: len(d.added)})
	}
	if len(d.updated) > 0 {
		msgs, err := w.session.FetchHeaders(ctx, folder, d.updated)
		if err != nil {
			return err
		}
		w.emit(UpdatedEvent{Folder: folder, Messages: msgs})
	}
	if len(d.removed) > 0 {
		w.emit(RemovedEvent{Folder: folder, IDs: d.removed})
	}
	w.emit(SyncFinishedEvent{Folder: folder, LastID: cursor})
	return nil
}
