package mail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeRelay speaks just enough SMTP for one delivery. The received
// DATA payload is sent on done. When rejectCode is non-zero every MAIL
// command is refused with it.
func fakeRelay(t *testing.T, rejectCode int) (addr string, done <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		fmt.Fprintf(conn, "220 mx.test ESMTP\r\n")
		r := bufio.NewReader(conn)
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")

			if inData {
				if line == "." {
					inData = false
					fmt.Fprintf(conn, "250 OK\r\n")
					ch <- data.String()
					continue
				}
				data.WriteString(line)
				data.WriteString("\n")
				continue
			}

			switch cmd := strings.ToUpper(line); {
			case strings.HasPrefix(cmd, "EHLO"):
				fmt.Fprintf(conn, "250-mx.test\r\n250 SIZE 10485760\r\n")
			case strings.HasPrefix(cmd, "HELO"):
				fmt.Fprintf(conn, "250 mx.test\r\n")
			case strings.HasPrefix(cmd, "MAIL"):
				if rejectCode != 0 {
					fmt.Fprintf(conn, "%d no\r\n", rejectCode)
				} else {
					fmt.Fprintf(conn, "250 OK\r\n")
				}
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				fmt.Fprintf(conn, "354 go ahead\r\n")
			case strings.HasPrefix(cmd, "QUIT"):
				fmt.Fprintf(conn, "221 bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "250 OK\r\n")
			}
		}
	}()

	return ln.Addr().String(), ch
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSMTPSenderSend(t *testing.T) {
	addr, done := fakeRelay(t, 0)
	sender := NewSMTPSender(addr, "mail.example.com", "", "", false, 5*time.Second, testLogger())

	msg := &Message{
		From:    "Weekly <news@example.com>",
		To:      "Alice <alice@example.com>",
		Subject: "Issue 1",
		Text:    "hello",
	}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case data := <-done:
		for _, want := range []string{"Subject: Issue 1", "hello"} {
			if !strings.Contains(data, want) {
				t.Errorf("relayed message missing %q", want)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay never received the message")
	}
}

func TestSMTPSenderPermanentRejection(t *testing.T) {
	addr, _ := fakeRelay(t, 550)
	sender := NewSMTPSender(addr, "mail.example.com", "", "", false, 5*time.Second, testLogger())

	msg := &Message{From: "news@example.com", To: "alice@example.com", Subject: "x", Text: "y"}
	err := sender.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("Send() expected error for rejected sender")
	}
	if IsTemporary(err) {
		t.Errorf("Send() error = %v, want permanent", err)
	}
}
