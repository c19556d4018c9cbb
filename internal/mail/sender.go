package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/phoebebright/newsletterd/internal/dkim"
)

// Sender delivers one message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// DeliveryError carries whether a failure is worth retrying.
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporary reports whether err is a retryable delivery failure.
// Unknown errors (network problems, timeouts) count as temporary.
func IsTemporary(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// SMTPSender delivers messages through a fixed SMTP relay.
type SMTPSender struct {
	addr     string
	hostname string
	username string
	password string
	startTLS bool
	timeout  time.Duration
	signer   *dkim.Signer
	logger   *slog.Logger
}

// NewSMTPSender creates a sender for the given relay address.
func NewSMTPSender(addr, hostname, username, password string, startTLS bool, timeout time.Duration, logger *slog.Logger) *SMTPSender {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{
		addr:     addr,
		hostname: hostname,
		username: username,
		password: password,
		startTLS: startTLS,
		timeout:  timeout,
		logger:   logger,
	}
}

// SetDKIMSigner enables DKIM signing of outgoing messages.
func (s *SMTPSender) SetDKIMSigner(signer *dkim.Signer) {
	s.signer = signer
}

// Send delivers the message to its recipient via the relay. The
// context deadline, when earlier than the configured timeout, bounds
// the whole exchange.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	data := msg.Build(s.hostname)

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			// Unsigned delivery beats no delivery.
			s.logger.Warn("DKIM signing failed, sending unsigned", "error", err)
		} else {
			data = signed
		}
	}

	conn, err := net.DialTimeout("tcp", s.addr, s.timeout)
	if err != nil {
		return &DeliveryError{Temporary: true, Message: fmt.Sprintf("failed to connect to relay: %v", err)}
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return &DeliveryError{Temporary: true, Message: fmt.Sprintf("failed to set deadline: %v", err)}
	}

	var client *smtp.Client
	if s.startTLS {
		host, _, _ := net.SplitHostPort(s.addr)
		client, err = smtp.NewClientStartTLS(conn, &tls.Config{ServerName: host})
		if err != nil {
			return classify(err, "STARTTLS failed")
		}
	} else {
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	// The handshake after STARTTLS resets the session, so this EHLO
	// (re)introduces us under the configured hostname either way.
	if err := client.Hello(s.hostname); err != nil {
		return classify(err, "EHLO failed")
	}

	if s.username != "" {
		auth := sasl.NewPlainClient("", s.username, s.password)
		if err := client.Auth(auth); err != nil {
			return classify(err, "AUTH failed")
		}
	}

	from, err := extractAddress(msg.From)
	if err != nil {
		return &DeliveryError{Temporary: false, Message: err.Error()}
	}
	to, err := extractAddress(msg.To)
	if err != nil {
		return &DeliveryError{Temporary: false, Message: err.Error()}
	}

	if err := client.SendMail(from, []string{to}, bytes.NewReader(data)); err != nil {
		return classify(err, "delivery failed")
	}

	s.logger.Debug("message delivered", "to", to, "domain", ExtractDomain(to), "relay", s.addr)
	return nil
}

// classify maps an SMTP error to a DeliveryError. 4xx replies are
// temporary, 5xx permanent, anything else (I/O, timeouts) temporary.
func classify(err error, prefix string) *DeliveryError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   fmt.Sprintf("%s: %v", prefix, err),
		}
	}
	return &DeliveryError{Temporary: true, Message: fmt.Sprintf("%s: %v", prefix, err)}
}
