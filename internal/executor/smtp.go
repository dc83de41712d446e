package executor

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach-engine/internal/domain"
)

// SMTPExecutor sends via plain SMTP with STARTTLS-less PLAIN auth, the
// lowest common denominator for customer-provided mailbox credentials.
// net/smtp has no context support, so the dial honors the context deadline
// and the rest of the session rides on a connection deadline.
type SMTPExecutor struct{}

// NewSMTPExecutor creates an SMTP executor.
func NewSMTPExecutor() *SMTPExecutor {
	return &SMTPExecutor{}
}

// Send delivers a single email through the account's SMTP server.
func (e *SMTPExecutor) Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (*domain.SendResult, error) {
	if account.SMTPHost == "" || account.SMTPUser == "" || account.SMTPPass == "" {
		return nil, fmt.Errorf("%w: account %s has incomplete SMTP credentials", ErrAccountConfig, account.ID)
	}

	port := account.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", account.SMTPHost, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, account.SMTPHost)
	if err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	defer client.Close()

	auth := smtp.PlainAuth("", account.SMTPUser, account.SMTPPass, account.SMTPHost)
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(auth); err != nil {
			// Bad credentials poison the whole account, not one contact.
			return nil, fmt.Errorf("%w: SMTP auth failed for account %s: %v", ErrAccountConfig, account.ID, err)
		}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), account.SMTPHost)
	body := buildMIME(msg, messageID)

	if err := client.Mail(msg.FromEmail); err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	if err := client.Rcpt(msg.Email); err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	w, err := client.Data()
	if err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	if _, err := w.Write([]byte(body)); err != nil {
		w.Close()
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	if err := w.Close(); err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}
	client.Quit()

	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  domain.ProviderSMTP,
		SentAt:    time.Now().UTC(),
	}, nil
}

func buildMIME(msg *domain.OutboundMessage, messageID string) string {
	boundary := "b-" + uuid.New().String()

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", msg.FromName), msg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Email)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	for k, v := range msg.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.HTMLContent != "" && msg.TextContent != "":
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.TextContent)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.HTMLContent)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case msg.HTMLContent != "":
		fmt.Fprintf(&b, "Content-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", msg.HTMLContent)
	default:
		fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", msg.TextContent)
	}
	return b.String()
}
