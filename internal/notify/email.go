package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/secrets"
)

const (
	defaultSMTPPort    = 587
	defaultSMTPTimeout = 30 * time.Second
)

// EmailConfig describes one SMTP delivery target.
type EmailConfig struct {
	Host string
	// Port 0 means the submission port 587.
	Port int
	From string
	To   []string
	CC   []string
	// Username enables SMTP authentication; the password is resolved
	// from PasswordRef on every send.
	Username    string
	PasswordRef string
	// TLS selects the transport policy: mandatory (default),
	// opportunistic, or none for plain-text relays on closed networks.
	TLS     string
	Timeout time.Duration
}

func (c EmailConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("smtp host is required")
	}
	if strings.TrimSpace(c.From) == "" {
		return errors.New("from address is required")
	}
	if len(c.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if _, err := tlsPolicy(c.TLS); err != nil {
		return err
	}
	if c.Username != "" && strings.TrimSpace(c.PasswordRef) == "" {
		return errors.New("password ref is required when username is set")
	}
	return nil
}

func tlsPolicy(name string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return 0, fmt.Errorf("unknown tls policy %q", name)
	}
}

// Email sends the run summary as a plain-text message.
type Email struct {
	cfg      EmailConfig
	resolver *secrets.Resolver
}

func NewEmail(cfg EmailConfig, resolver *secrets.Resolver) (*Email, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Email{cfg: cfg, resolver: resolver}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, result domain.ExecutionResult) error {
	msg, err := e.message(result)
	if err != nil {
		return err
	}
	client, err := e.client(ctx)
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (e *Email) message(result domain.ExecutionResult) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("to addresses: %w", err)
	}
	if len(e.cfg.CC) > 0 {
		if err := msg.Cc(e.cfg.CC...); err != nil {
			return nil, fmt.Errorf("cc addresses: %w", err)
		}
	}
	msg.Subject(fmt.Sprintf("[%s] pipeline %s", result.Status, result.Pipeline))
	msg.SetBodyString(mail.TypeTextPlain, result.Summary())
	return msg, nil
}

func (e *Email) client(ctx context.Context) (*mail.Client, error) {
	policy, err := tlsPolicy(e.cfg.TLS)
	if err != nil {
		return nil, err
	}
	port := e.cfg.Port
	if port == 0 {
		port = defaultSMTPPort
	}
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(timeout),
	}
	if e.cfg.Username != "" {
		password, err := e.resolver.Resolve(ctx, e.cfg.PasswordRef)
		if err != nil {
			return nil, fmt.Errorf("resolve smtp password: %w", err)
		}
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(password),
		)
	}

	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}
