package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/config"
	"github.com/findosh/contactdesk/internal/logging"
)

const maxSendRetries = 2

// SMTPNotifier sends passcodes through an SMTP relay
type SMTPNotifier struct {
	cfg       config.SMTPConfig
	recipient string
	logger    *zap.Logger
	send   func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPNotifier builds a notifier from the SMTP settings. recipientName is
// the display name used in the To header and the greeting.
func NewSMTPNotifier(cfg config.SMTPConfig, recipientName string, logger *zap.Logger) (*SMTPNotifier, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTimeout(15 * time.Second)}
	switch cfg.Secure {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &SMTPNotifier{
		cfg:       cfg,
		recipient: recipientName,
		logger:    logging.OrNop(logger).Named("smtp"),
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

// SendCode mails the code, retrying transient failures
func (n *SMTPNotifier) SendCode(ctx context.Context, identity, code string, ttl time.Duration) error {
	msg, err := n.message(identity, code, ttl)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	err = backoff.RetryNotify(
		func() error { return n.send(ctx, msg) },
		backoff.WithContext(backoff.WithMaxRetries(b, maxSendRetries), ctx),
		func(err error, next time.Duration) {
			n.logger.Warn("smtp send failed, retrying", zap.Error(err), zap.Duration("next", next))
		},
	)
	if err != nil {
		return fmt.Errorf("failed to send otp email: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) message(identity, code string, ttl time.Duration) (*mail.Msg, error) {
	body, err := RenderBody(n.recipient, code, ttl)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(n.cfg.FromName, n.cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.AddToFormat(n.recipient, identity); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(OTPSubject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
