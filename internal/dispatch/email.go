package dispatch

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/config"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/resilience"
)

// EmailChannel delivers notifications over SMTP.
type EmailChannel struct {
	id       string
	smtpAddr string
	from     string
	to       []string
	minSev   model.Severity

	// sendMail is swapped in tests; defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel validates the email configuration and returns the channel.
func NewEmailChannel(cfg config.ChannelConfig) (*EmailChannel, error) {
	if cfg.SMTPAddr == "" {
		return nil, eris.Errorf("dispatch: email channel %s missing smtp_addr", cfg.ID)
	}
	if cfg.Email == "" {
		return nil, eris.Errorf("dispatch: email channel %s missing recipient", cfg.ID)
	}
	from := cfg.From
	if from == "" {
		from = "alerts@lead-alerts.local"
	}
	return &EmailChannel{
		id:       cfg.ID,
		smtpAddr: cfg.SMTPAddr,
		from:     from,
		to:       parseRecipients(cfg.Email),
		minSev:   minSeverity(cfg.MinSeverity),
		sendMail: smtp.SendMail,
	}, nil
}

func (c *EmailChannel) ID() string                  { return c.id }
func (c *EmailChannel) Type() string                { return "email" }
func (c *EmailChannel) MinSeverity() model.Severity { return c.minSev }

func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(n.Severity)), title(n))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\nEntity: %s\r\nType: %s\r\nAlert: %s\r\nRaised: %s\r\n",
		n.Message, n.EntityID, n.Type, n.AlertID, n.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	for k, v := range n.Details {
		fmt.Fprintf(&b, "%s: %v\r\n", k, v)
	}

	if err := c.sendMail(c.smtpAddr, nil, c.from, c.to, []byte(b.String())); err != nil {
		// SMTP relay problems are almost always transient.
		return resilience.NewTransientError(eris.Wrapf(err, "email: send via %s", c.smtpAddr), 0)
	}
	return nil
}

// TestConnection dials the SMTP relay and quits without sending mail.
func (c *EmailChannel) TestConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := smtp.Dial(c.smtpAddr)
	if err != nil {
		return eris.Wrapf(err, "email: dial %s", c.smtpAddr)
	}
	return client.Quit()
}

func parseRecipients(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
