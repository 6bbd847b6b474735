package account

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/mail"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/mailhoard/mailhoard/pkg/stringutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ Sender = (*smtpSender)(nil)

// smtpSender submits outgoing messages over the account's separate
// submission endpoint.  Each Send dials a fresh connection; submission is
// rare enough that holding one open buys nothing.
type smtpSender struct {
	acc      *Account
	conf     config.SMTP
	verifier Verifier
	logger   zerolog.Logger
}

// NewSMTPSender builds the production submission channel for an account.
func NewSMTPSender(acc *Account, conf config.SMTP, verifier Verifier, logger zerolog.Logger) Sender {
	return &smtpSender{
		acc:      acc,
		conf:     conf,
		verifier: verifier,
		logger:   logger.With().Str("module", "smtp").Str("account", acc.Name).Logger(),
	}
}

func (s *smtpSender) Send(ctx context.Context, msg *message.Message) error {
	if msg.From == nil {
		return newError(ErrProtocol, "send", errors.New("message has no sender address"))
	}
	if len(msg.To) == 0 {
		return newError(ErrProtocol, "send", errors.New("message has no recipients"))
	}

	raw, err := buildOutgoing(msg)
	if err != nil {
		return newError(ErrProtocol, "build message", err)
	}

	addr := s.acc.Config.SMTPAddr
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	tlsConfig := verifierTLSConfig(host, s.verifier)

	s.logger.Debug().Str("addr", addr).Msg("Dialing SMTP server")
	var client *smtp.Client
	switch s.acc.Config.SMTPTLS {
	case config.TLSStartTLS:
		client, err = smtp.DialStartTLS(addr, tlsConfig)
	default:
		client, err = smtp.DialTLS(addr, tlsConfig)
	}
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return ae
		}
		return newError(ErrConnection, "dial", err)
	}
	defer client.Close()

	auth := sasl.NewPlainClient("", s.acc.Config.Username, s.acc.Config.Password)
	if err := client.Auth(auth); err != nil {
		return newError(ErrAuthentication, "auth",
			errors.Wrapf(err, "authentication failed for %s", s.acc.Config.Username))
	}

	rcpts := make([]string, 0, len(msg.To)+len(msg.Cc))
	for _, a := range msg.To {
		rcpts = append(rcpts, a.Address)
	}
	for _, a := range msg.Cc {
		rcpts = append(rcpts, a.Address)
	}
	if err := client.SendMail(msg.From.Address, rcpts, bytes.NewReader(raw)); err != nil {
		return newError(ErrProtocol, "send", err)
	}
	if err := client.Quit(); err != nil {
		s.logger.Debug().Err(err).Msg("SMTP quit failed")
	}
	s.logger.Info().Str("subject", msg.Subject).
		Str("from", stringutil.StringAddress(msg.From)).
		Strs("to", stringutil.StringAddressList(msg.To)).
		Msg("Message submitted")
	return nil
}

// buildOutgoing renders the message as an RFC 5322 document with a
// multipart/alternative body when an HTML rendition is present.
func buildOutgoing(msg *message.Message) ([]byte, error) {
	var buf bytes.Buffer
	var h gomail.Header
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{msg.From})
	h.SetAddressList("To", msg.To)
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", msg.Cc)
	}
	if len(msg.ID) > 0 {
		h.Set("Message-Id", string(msg.ID))
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writeInlinePart(iw, "text/plain", msg.Body); err != nil {
		return nil, err
	}
	if msg.HTMLBody != "" {
		if err := writeInlinePart(iw, "text/html", msg.HTMLBody); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInlinePart(iw *gomail.InlineWriter, mime, body string) error {
	var h gomail.InlineHeader
	h.SetContentType(mime, map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}
