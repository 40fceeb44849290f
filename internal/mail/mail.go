// Package mail is the email-sending collaborator used to deliver
// verification codes. Send failures are reported to the caller and
// surfaced as user notices, never treated as fatal.
package mail

import (
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"go.uber.org/zap"
)

// Sender delivers a single email.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Send delivers the message via smtp.SendMail. Authentication is used
// only when a username is configured.
func (s *SMTPSender) Send(to, subject, body string) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.From, to, subject, body)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return smtp.SendMail(addr, auth, s.From, []string{to}, []byte(msg))
}

// LogSender logs mail instead of sending it. Used when SMTP is not
// configured, so development setups can read codes from the server log.
type LogSender struct{}

// Send logs the message and reports success.
func (LogSender) Send(to, subject, body string) error {
	zap.L().Info("mail_logged",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
