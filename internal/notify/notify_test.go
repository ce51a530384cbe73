package notify

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/codefordc/housing-insights-loader/internal/config"
)

// relay is a scripted SMTP server on a loopback listener
type relay struct {
	ln       net.Listener
	greeting string
	silent   bool
	data     chan string
}

func newRelay(t *testing.T, greeting string, silent bool) *relay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	r := &relay{ln: ln, greeting: greeting, silent: silent, data: make(chan string, 1)}
	go r.serve()
	return r
}

func (r *relay) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *relay) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	text := textproto.NewConn(conn)

	if r.silent {
		// Hold the connection open without greeting until the client gives up
		_, _ = bufio.NewReader(conn).ReadByte()
		return
	}
	if err := text.PrintfLine("%s", r.greeting); err != nil || !strings.HasPrefix(r.greeting, "220") {
		return
	}

	for {
		line, err := text.ReadLine()
		if err != nil {
			return
		}
		switch verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); verb {
		case "DATA":
			_ = text.PrintfLine("354 go ahead")
			body, err := text.ReadDotBytes()
			if err != nil {
				return
			}
			r.data <- string(body)
			_ = text.PrintfLine("250 queued")
		case "QUIT":
			_ = text.PrintfLine("221 bye")
			return
		default:
			_ = text.PrintfLine("250 ok")
		}
	}
}

// dialer connects every address to the relay
func (r *relay) dialer() func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, _ string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, network, r.ln.Addr().String())
	}
}

func newTestNotifier(t *testing.T, r *relay) *SMTPNotifier {
	t.Helper()

	n, err := NewSMTPNotifier(&config.MailConfig{
		Host: "smtp.example.org",
		Port: 587,
		From: "loader@example.org",
		To:   []string{"ops@example.org", "data@example.org"},
	})
	require.NoError(t, err)

	n.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 5, 0, time.UTC) }
	if r != nil {
		n.dial = r.dialer()
	}
	return n
}

func TestSMTPNotifier_Message(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, nil)

	msg, err := n.message("Crime table load successful.\nPermit table load not successful. Using backup.\n\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"Data update for 2024-03-01 00:00"}, msg.GetGenHeader(mail.HeaderSubject))
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.org", "data@example.org"}, rcpts)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "loader@example.org")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "Crime table load successful.")
	assert.Contains(t, raw, "Permit table load not successful. Using backup.")
}

func TestSMTPNotifier_Send(t *testing.T) {
	t.Parallel()

	r := newRelay(t, "220 relay.example.org ESMTP", false)
	n := newTestNotifier(t, r)

	require.NoError(t, n.Send(context.Background(), "Crime table load successful.\nZone facts table creation successful.\n"))

	select {
	case data := <-r.data:
		assert.Contains(t, data, "Subject: Data update for 2024-03-01 00:00")
		assert.Contains(t, data, "Crime table load successful.")
		assert.Contains(t, data, "Zone facts table creation successful.")
	case <-time.After(5 * time.Second):
		t.Fatal("relay received no message")
	}
}

func TestSMTPNotifier_SendFailure(t *testing.T) {
	t.Parallel()

	r := newRelay(t, "554 5.3.2 service unavailable", false)
	n := newTestNotifier(t, r)

	err := n.Send(context.Background(), "Invalid data loading attempted.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send report mail")
	assert.Contains(t, err.Error(), "service unavailable")
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestSMTPNotifier_SendCancelled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "cancelled before dialing",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
		{
			name: "deadline while waiting for the greeting",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 100*time.Millisecond)
			},
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRelay(t, "", true)
			n := newTestNotifier(t, r)

			ctx, cancel := tt.ctx()
			defer cancel()

			start := time.Now()
			err := n.Send(ctx, "Crime table load successful.")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Less(t, time.Since(start), DefaultDialTimeout)
			assert.Empty(t, r.data)
		})
	}
}

func TestNewSMTPNotifier(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		name    string
		cfg     *config.MailConfig
		env     string
		wantErr string
	}{
		{name: "nil config", wantErr: "mail configuration is required"},
		{name: "missing recipients", cfg: &config.MailConfig{Host: "h", Port: 25, From: "f@x"}, wantErr: "are required"},
		{
			name: "with credentials",
			cfg:  &config.MailConfig{Host: "h", Port: 587, From: "f@x", To: []string{"t@x"}, Username: "loader"},
			env:  "hunter2",
		},
		{
			name: "unreadable password file",
			cfg: &config.MailConfig{
				Host: "h", Port: 587, From: "f@x", To: []string{"t@x"},
				Username: "loader", PasswordFile: missing,
			},
			wantErr: "failed to get SMTP password",
		},
		{
			name: "empty password file",
			cfg: &config.MailConfig{
				Host: "h", Port: 587, From: "f@x", To: []string{"t@x"},
				Username: "loader", PasswordFile: empty,
			},
			wantErr: "is empty",
		},
		{
			name: "anonymous relay",
			cfg:  &config.MailConfig{Host: "h", Port: 25, From: "f@x", To: []string{"t@x"}},
		},
		{
			name:    "port out of range",
			cfg:     &config.MailConfig{Host: "h", Port: 70000, From: "f@x", To: []string{"t@x"}},
			wantErr: "invalid mail relay settings",
		},
		{
			name:    "malformed sender",
			cfg:     &config.MailConfig{Host: "h", Port: 25, From: "not an address", To: []string{"t@x"}},
			wantErr: "invalid sender",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvSMTPPassword, tt.env)

			n, err := NewSMTPNotifier(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, n)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	n, err := New(nil)
	require.NoError(t, err)
	assert.IsType(t, LogNotifier{}, n)
	require.NoError(t, n.Send(context.Background(), "Crime table load successful.\n"))

	n, err = New(&config.MailConfig{Host: "h", Port: 25, From: "f@x", To: []string{"t@x"}})
	require.NoError(t, err)
	assert.IsType(t, &SMTPNotifier{}, n)
}
