// Package notify delivers refresh reports to operators.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/codefordc/housing-insights-loader/internal/config"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

const (
	// SubjectPrefix starts the subject of every report mail
	SubjectPrefix = "Data update for"

	// DefaultDialTimeout bounds connecting and greeting the relay
	DefaultDialTimeout = 15 * time.Second
)

// SMTPNotifier mails reports through an SMTP relay
type SMTPNotifier struct {
	host    string
	from    string
	to      []string
	options []mail.Option
	now     func() time.Time
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewSMTPNotifier creates a notifier from the mail configuration. PLAIN auth is
// used when a username is configured, and STARTTLS whenever the relay offers it.
func NewSMTPNotifier(cfg *config.MailConfig) (*SMTPNotifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mail configuration is required")
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("mail host, from and to are required")
	}

	options := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(DefaultDialTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		password, err := cfg.GetPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to get SMTP password: %w", err)
		}
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(password),
		)
	}

	n := &SMTPNotifier{
		host:    cfg.Host,
		from:    cfg.From,
		to:      cfg.To,
		options: options,
		now:     time.Now,
		dial:    (&net.Dialer{}).DialContext,
	}

	// Reject bad ports and addresses at startup rather than at the first report
	if _, err := n.client(); err != nil {
		return nil, err
	}
	if _, err := n.message("check"); err != nil {
		return nil, err
	}

	return n, nil
}

// Send mails the report. Cancelling ctx aborts the delivery at whatever stage
// of the SMTP conversation it has reached.
func (n *SMTPNotifier) Send(ctx context.Context, report string) error {
	msg, err := n.message(report)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var stops []func() bool
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, stop := range stops {
			stop()
		}
	}()
	client, err := n.client(func(conn net.Conn) {
		mu.Lock()
		defer mu.Unlock()
		stops = append(stops, context.AfterFunc(ctx, func() { _ = conn.Close() }))
	})
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("report mail cancelled: %w", ctxErr)
		}
		return fmt.Errorf("failed to send report mail: %w", err)
	}
	return nil
}

// client builds a mail client for one delivery. Every connection it opens is
// handed to onConn.
func (n *SMTPNotifier) client(onConn ...func(net.Conn)) (*mail.Client, error) {
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := n.dial(ctx, network, address)
		if err != nil {
			return nil, err
		}
		for _, fn := range onConn {
			fn(conn)
		}
		return conn, nil
	}

	opts := append(append([]mail.Option{}, n.options...), mail.WithDialContextFunc(dial))
	client, err := mail.NewClient(n.host, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid mail relay settings: %w", err)
	}
	return client, nil
}

func (n *SMTPNotifier) message(report string) (*mail.Msg, error) {
	now := n.now()

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.from, err)
	}
	if err := msg.To(n.to...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(fmt.Sprintf("%s %s", SubjectPrefix, now.Format("2006-01-02 15:04")))
	msg.SetDateWithValue(now)
	msg.SetBodyString(mail.TypeTextPlain, strings.TrimRight(report, "\n")+"\n")
	return msg, nil
}

// LogNotifier writes reports to the structured log. It is used when no mail
// relay is configured.
type LogNotifier struct{}

// Send logs the report
func (LogNotifier) Send(ctx context.Context, report string) error {
	slog.InfoContext(ctx, "Refresh report", "report", strings.TrimRight(report, "\n"))
	return nil
}

// New returns an SMTP notifier when mail is configured and a LogNotifier otherwise
func New(cfg *config.MailConfig) (refresh.Notifier, error) {
	if cfg == nil {
		slog.Info("No mail relay configured, reports will be logged")
		return LogNotifier{}, nil
	}
	return NewSMTPNotifier(cfg)
}
