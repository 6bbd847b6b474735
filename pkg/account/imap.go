package account

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/mail"
	"os"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/jhillyerd/enmime/v2"
	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ Session = (*imapSession)(nil)

// imapSession implements Session on go-imap v2.  One instance belongs to one
// worker goroutine; only Close may be called from outside to break a stuck
// network operation.
type imapSession struct {
	acc      *Account
	conf     config.IMAP
	verifier Verifier
	logger   zerolog.Logger

	client   *imapclient.Client
	delim    string
	selected string

	// handles caches per-folder state keyed by path.  The UID associations
	// are live for every cached folder; the SELECT response only for the
	// currently selected one, since IMAP permits a single selected mailbox
	// per connection.  Eviction bounds the association maps.
	handles *assocCache[*folderHandle]
}

// folderHandle is what the session has learned about one folder: the last
// SELECT response and the message ID to server UID associations gathered by
// listings.
type folderHandle struct {
	data *imap.SelectData // nil unless this folder is selected
	uids map[string]imap.UID
}

// NewIMAPSession builds the production store session for an account.
func NewIMAPSession(acc *Account, conf config.IMAP, verifier Verifier, logger zerolog.Logger) Session {
	return &imapSession{
		acc:      acc,
		conf:     conf,
		verifier: verifier,
		logger:   logger.With().Str("module", "imap").Str("account", acc.Name).Logger(),
		delim:    "/",
		handles:  newAssocCache[*folderHandle](conf.FolderCacheSize),
	}
}

func (s *imapSession) Dial(ctx context.Context) error {
	addr := s.acc.Config.IMAPAddr
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	tlsConfig := verifierTLSConfig(host, s.verifier)

	s.logger.Debug().Str("addr", addr).Msg("Dialing IMAP server")
	var client *imapclient.Client
	switch s.acc.Config.IMAPTLS {
	case config.TLSStartTLS:
		client, err = imapclient.DialStartTLS(addr, &imapclient.Options{TLSConfig: tlsConfig})
	default:
		dialer := &net.Dialer{Timeout: s.conf.DialTimeout}
		var conn *tls.Conn
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err == nil {
			client = imapclient.New(conn, &imapclient.Options{})
		}
	}
	if err != nil {
		return s.classify("dial", err)
	}
	s.client = client
	return nil
}

func (s *imapSession) Login(ctx context.Context) error {
	if err := s.client.Login(s.acc.Config.Username, s.acc.Config.Password).Wait(); err != nil {
		_ = s.client.Close()
		s.client = nil
		return newError(ErrAuthentication, "login",
			errors.Wrapf(err, "authentication failed for %s", s.acc.Config.Username))
	}
	s.logger.Debug().Msg("IMAP session authenticated")
	return nil
}

func (s *imapSession) Close() error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	s.selected = ""
	s.handles.clear()
	return client.Close()
}

func (s *imapSession) ListFolders(ctx context.Context) ([]message.Folder, error) {
	listCmd := s.client.List("", "*", &imap.ListOptions{
		ReturnStatus: &imap.StatusOptions{NumMessages: true, NumUnseen: true},
	})
	data, err := listCmd.Collect()
	if err != nil {
		return nil, s.classify("list folders", err)
	}

	folders := make([]message.Folder, 0, len(data))
	for _, d := range data {
		if d.Delim != 0 {
			s.delim = string(d.Delim)
		}
		path := strings.Split(d.Mailbox, s.delim)
		f := message.Folder{
			Path:        path,
			DisplayName: path[len(path)-1],
		}
		if d.Status != nil {
			if d.Status.NumMessages != nil {
				f.Messages = int(*d.Status.NumMessages)
			}
			if d.Status.NumUnseen != nil {
				f.Unread = int(*d.Status.NumUnseen)
			}
		}
		folders = append(folders, f)
	}
	return folders, nil
}

func (s *imapSession) ListMessages(ctx context.Context, folder []string, since []byte) ([]MessageRef, []byte, error) {
	if _, err := s.selectFolder(ctx, folder); err != nil {
		return nil, nil, err
	}

	criteria := &imap.SearchCriteria{}
	lastUID := cursorUID(since)
	if lastUID > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: lastUID + 1, Stop: 0}}}
	}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, nil, s.classify("search", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, since, nil
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:      true,
		Flags:    true,
		Envelope: true,
	})
	defer fetchCmd.Close()

	key := string(message.PathKey(folder))
	refs := make([]MessageRef, 0, len(uids))
	maxUID := lastUID
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		id := s.messageID(key, buf)
		s.rememberUID(key, id, buf.UID)
		refs = append(refs, MessageRef{
			ID:    id,
			Flags: flagStrings(buf.Flags),
			Read:  hasFlag(buf.Flags, imap.FlagSeen),
		})
		if buf.UID > maxUID {
			maxUID = buf.UID
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return refs, uidCursor(maxUID), s.classify("fetch refs", err)
	}
	return refs, uidCursor(maxUID), nil
}

func (s *imapSession) FetchHeaders(ctx context.Context, folder []string, ids [][]byte) ([]*message.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.selectFolder(ctx, folder); err != nil {
		return nil, err
	}
	uidSet, err := s.uidsFor(ctx, folder, ids)
	if err != nil {
		return nil, err
	}

	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		RFC822Size:   true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	key := string(message.PathKey(folder))
	var msgs []*message.Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			continue
		}
		msgs = append(msgs, s.fromHeaders(key, folder, buf))
	}
	if err := fetchCmd.Close(); err != nil {
		return msgs, s.classify("fetch headers", err)
	}
	return msgs, nil
}

func (s *imapSession) FetchMessage(ctx context.Context, folder []string, id []byte) (*message.Message, error) {
	raw, msg, err := s.fetchRaw(ctx, folder, id)
	if err != nil {
		return nil, err
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(ErrProtocol, "parse message", err)
	}
	msg.Body = env.Text
	msg.HTMLBody = env.HTML
	for _, part := range env.Attachments {
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Name:   part.FileName,
			MIME:   part.ContentType,
			Size:   int64(len(part.Content)),
			PartID: part.PartID,
		})
	}
	return msg, nil
}

func (s *imapSession) FetchAttachment(ctx context.Context, folder []string, id []byte, partID, destPath string) error {
	raw, _, err := s.fetchRaw(ctx, folder, id)
	if err != nil {
		return err
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return newError(ErrProtocol, "parse message", err)
	}
	for _, part := range env.Attachments {
		if part.PartID == partID || (partID == "" && part.FileName != "") {
			if err := os.WriteFile(destPath, part.Content, 0o660); err != nil {
				return newError(ErrStorage, "write attachment", err)
			}
			return nil
		}
	}
	return newError(ErrProtocol, "fetch attachment",
		errors.Errorf("no part %q in message %x", partID, id))
}

func (s *imapSession) SetRead(ctx context.Context, folder []string, ids [][]byte, read bool) error {
	if _, err := s.selectFolder(ctx, folder); err != nil {
		return err
	}
	uidSet, err := s.uidsFor(ctx, folder, ids)
	if err != nil {
		return err
	}
	op := imap.StoreFlagsAdd
	if !read {
		op = imap.StoreFlagsDel
	}
	storeCmd := s.client.Store(uidSet, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return s.classify("store flags", err)
	}
	return nil
}

func (s *imapSession) Copy(ctx context.Context, ids [][]byte, from []string, tos [][]string) error {
	if _, err := s.selectFolder(ctx, from); err != nil {
		return err
	}
	uidSet, err := s.uidsFor(ctx, from, ids)
	if err != nil {
		return err
	}
	for _, to := range tos {
		if _, err := s.client.Copy(uidSet, s.mailboxName(to)).Wait(); err != nil {
			return s.classify("copy", err)
		}
	}
	return nil
}

func (s *imapSession) Delete(ctx context.Context, folder []string, ids [][]byte) error {
	if _, err := s.selectFolder(ctx, folder); err != nil {
		return err
	}
	uidSet, err := s.uidsFor(ctx, folder, ids)
	if err != nil {
		return err
	}
	storeCmd := s.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return s.classify("store deleted", err)
	}
	if err := s.client.Expunge().Close(); err != nil {
		return s.classify("expunge", err)
	}
	return nil
}

func (s *imapSession) MessageCount(ctx context.Context, folder []string) (int, error) {
	data, err := s.client.Status(s.mailboxName(folder), &imap.StatusOptions{
		NumMessages: true,
	}).Wait()
	if err != nil {
		return 0, s.classify("status", err)
	}
	if data.NumMessages == nil {
		return 0, nil
	}
	return int(*data.NumMessages), nil
}

func (s *imapSession) Noop(ctx context.Context) error {
	if err := s.client.Noop().Wait(); err != nil {
		return s.classify("noop", err)
	}
	return nil
}

// selectFolder opens the folder, reusing the cached SELECT response while
// the folder stays selected.  Switching folders stales the previous
// response.
func (s *imapSession) selectFolder(ctx context.Context, folder []string) (*imap.SelectData, error) {
	key := string(message.PathKey(folder))
	if s.selected == key {
		if h, ok := s.handles.get(key); ok && h.data != nil {
			return h.data, nil
		}
	}
	data, err := s.client.Select(s.mailboxName(folder), nil).Wait()
	if err != nil {
		return nil, s.classify("select "+message.PathString(folder), err)
	}
	if prev, ok := s.handles.get(s.selected); ok {
		prev.data = nil
	}
	s.selected = key
	s.handle(key).data = data
	return data, nil
}

// handle returns the cached state for a folder key, creating it on first
// touch.
func (s *imapSession) handle(key string) *folderHandle {
	if h, ok := s.handles.get(key); ok {
		return h
	}
	h := &folderHandle{uids: make(map[string]imap.UID)}
	s.handles.put(key, h)
	return h
}

// fetchRaw pulls the full source of one message plus its header metadata.
func (s *imapSession) fetchRaw(ctx context.Context, folder []string, id []byte) ([]byte, *message.Message, error) {
	if _, err := s.selectFolder(ctx, folder); err != nil {
		return nil, nil, err
	}
	uidSet, err := s.uidsFor(ctx, folder, [][]byte{id})
	if err != nil {
		return nil, nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		RFC822Size:   true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	data := fetchCmd.Next()
	if data == nil {
		return nil, nil, newError(ErrProtocol, "fetch message",
			errors.Errorf("message %x not found", id))
	}
	buf, err := data.Collect()
	if err != nil {
		return nil, nil, s.classify("fetch message", err)
	}
	key := string(message.PathKey(folder))
	msg := s.fromHeaders(key, folder, buf)
	raw := buf.FindBodySection(bodySection)
	if err := fetchCmd.Close(); err != nil {
		return nil, nil, s.classify("fetch message", err)
	}
	return raw, msg, nil
}

// fromHeaders builds a Message from envelope-level fetch data.
func (s *imapSession) fromHeaders(key string, folder []string, buf *imapclient.FetchMessageBuffer) *message.Message {
	id := s.messageID(key, buf)
	s.rememberUID(key, id, buf.UID)

	msg := &message.Message{
		ID:      id,
		Kind:    message.KindReceived,
		Size:    buf.RFC822Size,
		Flags:   flagStrings(buf.Flags),
		Read:    hasFlag(buf.Flags, imap.FlagSeen),
		Folders: [][]string{folder},
		Date:    buf.InternalDate,
	}
	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		if !env.Date.IsZero() {
			msg.Date = env.Date
		}
		if len(env.From) > 0 {
			msg.From = imapAddress(env.From[0])
		}
		for _, a := range env.To {
			msg.To = append(msg.To, imapAddress(a))
		}
		for _, a := range env.Cc {
			msg.Cc = append(msg.Cc, imapAddress(a))
		}
	}
	return msg
}

// messageID prefers the stable Message-ID header; a folder-qualified UID is
// the fallback for servers that omit it.
func (s *imapSession) messageID(folderKey string, buf *imapclient.FetchMessageBuffer) []byte {
	if buf.Envelope != nil && buf.Envelope.MessageID != "" {
		return []byte(buf.Envelope.MessageID)
	}
	return []byte(folderKey + "\x00" + strconv.FormatUint(uint64(buf.UID), 10))
}

func (s *imapSession) rememberUID(folderKey string, id []byte, uid imap.UID) {
	s.handle(folderKey).uids[string(id)] = uid
}

// uidsFor resolves message IDs to server UIDs, searching by Message-ID
// header for IDs not seen in this session.
func (s *imapSession) uidsFor(ctx context.Context, folder []string, ids [][]byte) (imap.UIDSet, error) {
	key := string(message.PathKey(folder))
	var uids []imap.UID
	for _, id := range ids {
		if h, ok := s.handles.get(key); ok {
			if uid, ok := h.uids[string(id)]; ok {
				uids = append(uids, uid)
				continue
			}
		}
		uid, err := s.searchMessageID(ctx, id)
		if err != nil {
			return nil, err
		}
		if uid == 0 {
			s.logger.Warn().Str("id", string(id)).Msg("Message ID unknown to server, skipping")
			continue
		}
		s.rememberUID(key, id, uid)
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return nil, newError(ErrProtocol, "resolve ids",
			errors.New("none of the requested messages exist on the server"))
	}
	return imap.UIDSetNum(uids...), nil
}

func (s *imapSession) searchMessageID(ctx context.Context, id []byte) (imap.UID, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: string(id)},
		},
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, s.classify("search message-id", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return 0, nil
	}
	return uids[0], nil
}

func (s *imapSession) mailboxName(folder []string) string {
	return strings.Join(folder, s.delim)
}

// classify maps a raw failure onto the error taxonomy.  Certificate errors
// are already classified by the verifier hook; network failures reset the
// connection; everything else is scoped to the operation.
func (s *imapSession) classify(op string, err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return newError(ErrConnection, op, err)
	}
	// Server NO/BAD responses and parse failures stay scoped to the
	// operation.
	return newError(ErrProtocol, op, err)
}

// imapAddress converts a protocol address into net/mail form.
func imapAddress(a imap.Address) *mail.Address {
	return &mail.Address{Name: a.Name, Address: a.Addr()}
}

func flagStrings(flags []imap.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func hasFlag(flags []imap.Flag, want imap.Flag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// uidCursor encodes the highest seen UID as the folder's opaque resumption
// marker.
func uidCursor(uid imap.UID) []byte {
	if uid == 0 {
		return nil
	}
	return []byte(strconv.FormatUint(uint64(uid), 10))
}

func cursorUID(cursor []byte) imap.UID {
	if len(cursor) == 0 {
		return 0
	}
	n, err := strconv.ParseUint(string(cursor), 10, 32)
	if err != nil {
		return 0
	}
	return imap.UID(n)
}
