package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"slate-backend/internal/config"
)

// Notifier delivers outbound notification mail.
type Notifier interface {
	Send(to, subject, body string) error
}

// New returns an SMTP notifier, or a log-only notifier when mail is
// disabled in config.
func New(cfg config.MailConfig) Notifier {
	if !cfg.Enabled {
		return &logNotifier{}
	}
	return &smtpNotifier{cfg: cfg}
}

type smtpNotifier struct {
	cfg config.MailConfig
}

func (n *smtpNotifier) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.cfg.From, to, subject, body)
	if err := smtp.SendMail(addr, nil, n.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

type logNotifier struct{}

func (n *logNotifier) Send(to, subject, body string) error {
	log.Printf("mail disabled, dropping message to %s: %s", to, subject)
	return nil
}
