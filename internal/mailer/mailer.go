// Package mailer delivers password-reset emails over SMTP.
package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/keyfold/keyfold/internal/config"
)

// Send delivers an email. Overridable so handler tests can capture
// outgoing mail instead of hitting the wire.
var Send = sendSMTP

func sendSMTP(to, subject, body string) error {
	cfg := config.Envs.SMTP
	if cfg.Host == "" {
		return fmt.Errorf("mailer: SMTP_HOST not configured")
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		cfg.From, to, subject, body,
	))

	addr := cfg.Host + ":" + cfg.Port
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	if err := smtp.SendMail(addr, auth, cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}
	return nil
}

// SendPasswordReset emails the one-time reset link to the user.
func SendPasswordReset(to, username, resetLink string) error {
	subject := "Reset your Keyfold password"
	body := fmt.Sprintf(
		"Hi %s,\n\nA password reset was requested for your Keyfold account. "+
			"Open the link below to choose a new password:\n\n%s\n\n"+
			"The link expires in one hour and can be used once. "+
			"If you did not request this, you can ignore this email.\n",
		username, resetLink,
	)
	return Send(to, subject, body)
}
