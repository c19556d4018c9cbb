package mail

import (
	"strings"
	"testing"
)

func TestBuildPlainText(t *testing.T) {
	msg := &Message{
		From:    "Weekly <news@example.com>",
		To:      "Alice <alice@example.com>",
		Subject: "Issue 1",
		Text:    "line one\nline two",
	}

	data := string(msg.Build("mail.example.com"))

	for _, want := range []string{
		"From: Weekly <news@example.com>\r\n",
		"To: Alice <alice@example.com>\r\n",
		"Subject: Issue 1\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"line one\r\nline two\r\n",
		"@mail.example.com>",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("Build() missing %q", want)
		}
	}
	if strings.Contains(data, "multipart/alternative") {
		t.Error("Build() used multipart for text-only message")
	}
}

func TestBuildMultipart(t *testing.T) {
	msg := &Message{
		From:    "news@example.com",
		To:      "alice@example.com",
		Subject: "Issue 1",
		Text:    "plain",
		HTML:    "<p>html</p>",
		Headers: map[string]string{"List-Unsubscribe": "<https://example.com/u>"},
	}

	data := string(msg.Build("mail.example.com"))

	for _, want := range []string{
		"multipart/alternative",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"Content-Type: text/html; charset=utf-8\r\n",
		"<p>html</p>",
		"List-Unsubscribe: <https://example.com/u>\r\n",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("Build() missing %q", want)
		}
	}
}

func TestBuildWithAttachments(t *testing.T) {
	msg := &Message{
		From:    "news@example.com",
		To:      "alice@example.com",
		Subject: "Issue 1",
		Text:    "plain",
		HTML:    "<p>html</p>",
		Attachments: []Attachment{
			{Filename: "agenda.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
			{Filename: "notes.txt", Data: []byte("raw")},
		},
	}

	data := string(msg.Build("mail.example.com"))

	for _, want := range []string{
		"Content-Type: multipart/mixed;",
		"Content-Type: multipart/alternative;",
		`Content-Type: application/pdf; name="agenda.pdf"`,
		`Content-Disposition: attachment; filename="agenda.pdf"`,
		"Content-Transfer-Encoding: base64",
		// Content type defaults when the upload does not name one.
		`Content-Type: application/octet-stream; name="notes.txt"`,
		"JVBERi0xLjQ=", // base64 of %PDF-1.4
	} {
		if !strings.Contains(data, want) {
			t.Errorf("Build() missing %q", want)
		}
	}
	if strings.Count(data, "MIME-Version: 1.0\r\n") != 1 {
		t.Error("Build() must emit MIME-Version exactly once")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"alice@Example.COM", "example.com"},
		{"Alice <alice@example.com>", "example.com"},
		{"no-at-sign", ""},
		{"trailing@", ""},
	}

	for _, tt := range tests {
		if got := ExtractDomain(tt.email); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestExtractAddress(t *testing.T) {
	got, err := extractAddress("Alice <alice@example.com>")
	if err != nil {
		t.Fatalf("extractAddress() error = %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("extractAddress() = %q", got)
	}

	if _, err := extractAddress("not valid <<"); err == nil {
		t.Error("extractAddress() expected error")
	}
}

func TestIsTemporary(t *testing.T) {
	if !IsTemporary(&DeliveryError{Temporary: true, Message: "x"}) {
		t.Error("IsTemporary() = false for temporary error")
	}
	if IsTemporary(&DeliveryError{Temporary: false, Message: "x"}) {
		t.Error("IsTemporary() = true for permanent error")
	}
}
