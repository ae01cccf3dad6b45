package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"sharelink/internal/config"
)

// SMTPMailer sends notifications through an SMTP relay.
// The envelope sender is always the configured service address; the sharer goes into Reply-To.
type SMTPMailer struct {
	cfg  config.SMTPConfig
	log  *zap.Logger
	now  func() time.Time
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTP builds an SMTPMailer. The relay is dialed per message, not at construction.
func NewSMTP(cfg config.SMTPConfig, log *zap.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("smtp from email is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
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
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPMailer{
		cfg: cfg,
		log: log.With(zap.String("component", "mailer"), zap.String("smtp_host", cfg.Host)),
		now: time.Now,
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

func tlsPolicy(p string) mail.TLSPolicy {
	switch strings.ToLower(p) {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// Send builds a multipart/alternative message and hands it to the relay.
func (s *SMTPMailer) Send(ctx context.Context, in Message) (*Receipt, error) {
	msg, err := s.buildMessage(in)
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, msg); err != nil {
		s.log.Warn("smtp delivery failed", zap.String("to", in.To), zap.Error(err))
		return nil, err
	}

	receipt := &Receipt{AcceptedAt: s.now().UTC()}
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		receipt.MessageID = ids[0]
	}
	s.log.Info("smtp delivery accepted", zap.String("to", in.To), zap.String("message_id", receipt.MessageID))
	return receipt, nil
}

func (s *SMTPMailer) buildMessage(in Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(in.To); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	if in.From != "" {
		if err := msg.ReplyTo(in.From); err != nil {
			return nil, fmt.Errorf("set reply-to: %w", err)
		}
	}
	msg.Subject(in.Subject)
	msg.SetMessageID()
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, in.Text)
	if in.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, in.HTML)
	}
	return msg, nil
}
