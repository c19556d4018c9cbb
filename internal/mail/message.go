// Package mail builds and delivers newsletter email over an SMTP
// relay.
package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one outgoing email.
type Message struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	Attachments []Attachment
}

// Attachment is a file carried alongside the message body.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Build constructs the RFC 5322 wire form of the message. When both
// text and HTML bodies are present they are combined as
// multipart/alternative; attachments wrap the body in multipart/mixed.
func (m *Message) Build(hostname string) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", m.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", m.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", m.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), hostname))

	for k, v := range m.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}

	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(m.Attachments) == 0 {
		m.writeBody(&buf)
		return buf.Bytes()
	}

	boundary := uuid.New().String()
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	m.writeBody(&buf)
	for _, a := range m.Attachments {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		writeAttachment(&buf, a)
	}
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

// writeBody writes the body part, starting with its Content-Type
// header line.
func (m *Message) writeBody(buf *bytes.Buffer) {
	if m.HTML != "" {
		boundary := uuid.New().String()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		buf.WriteString("\r\n")

		if m.Text != "" {
			buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
			buf.WriteString("\r\n")
			buf.WriteString(normalizeNewlines(m.Text))
			buf.WriteString("\r\n")
		}

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(normalizeNewlines(m.HTML))
		buf.WriteString("\r\n")
		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(normalizeNewlines(m.Text))
		buf.WriteString("\r\n")
	}
}

func writeAttachment(buf *bytes.Buffer, a Attachment) {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	buf.WriteString(fmt.Sprintf("Content-Type: %s; name=%q\r\n", ct, a.Filename))
	buf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q\r\n", a.Filename))
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("\r\n")

	enc := base64.StdEncoding.EncodeToString(a.Data)
	for len(enc) > 76 {
		buf.WriteString(enc[:76])
		buf.WriteString("\r\n")
		enc = enc[76:]
	}
	buf.WriteString(enc)
	buf.WriteString("\r\n")
}

// normalizeNewlines converts bare LF line endings to CRLF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
