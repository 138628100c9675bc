package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// EmailNotifier delivers alerts over SMTP.
type EmailNotifier struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
	fromName  string
	logger    zerolog.Logger

	// send allows tests to intercept the SMTP call.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier constructs an SMTP channel transport.
func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		host:      cfg.Host,
		port:      cfg.Port,
		username:  cfg.Username,
		password:  cfg.Password,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logging.Component(logger, "alert_email"),
		send:      smtp.SendMail,
	}
}

// Channel names the delivery channel.
func (n *EmailNotifier) Channel() string {
	return storage.ChannelEmail
}

// Send submits the rendered payload as a plain-text email. SMTP exposes no
// provider message id, so the external id is always empty.
func (n *EmailNotifier) Send(ctx context.Context, destination string, payload Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := n.fromEmail
	if n.fromName != "" {
		from = fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("From: %s\r\n", from))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", destination))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", payload.Subject))
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(RenderText(payload))

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.send(addr, auth, n.fromEmail, []string{destination}, []byte(builder.String())); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().
		Str("to", destination).
		Str("subject", payload.Subject).
		Msg("email alert delivered")
	return "", nil
}

var _ Notifier = (*EmailNotifier)(nil)
