package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers outbound mail. Failures are returned as-is; retrying is
// the caller's call (registration treats a failed send as fatal for the
// current attempt).
type Sender interface {
	Send(ctx context.Context, to string, subject string, htmlBody string) error
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	DisplayName string
}

type smtpSender struct {
	cfg    SMTPConfig
	client *gomail.Client
}

func NewSMTPSender(cfg SMTPConfig) (Sender, error) {
	client, err := gomail.NewClient(cfg.Host,
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client error: %w", err)
	}

	return &smtpSender{cfg: cfg, client: client}, nil
}

func (s *smtpSender) Send(ctx context.Context, to string, subject string, htmlBody string) error {
	msg := gomail.NewMsg()

	if err := msg.FromFormat(s.cfg.DisplayName, s.cfg.From); err != nil {
		return fmt.Errorf("mail sender address error: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail recipient address error: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail send error: %w", err)
	}

	return nil
}
