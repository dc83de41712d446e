package domain

import "time"

// ProviderType identifies how an email account transmits mail.
type ProviderType string

const (
	ProviderSES  ProviderType = "ses"
	ProviderSMTP ProviderType = "smtp"
)

// EmailAccount holds the credentials and configuration for one sending
// identity. Accounts are provisioned and verified outside this engine;
// the dispatcher only reads them.
type EmailAccount struct {
	ID        string       `json:"id" db:"id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Email     string       `json:"email" db:"email"`
	FromName  string       `json:"from_name" db:"from_name"`
	Provider  ProviderType `json:"provider" db:"provider"`
	SMTPHost  string       `json:"smtp_host" db:"smtp_host"`
	SMTPPort  int          `json:"smtp_port" db:"smtp_port"`
	SMTPUser  string       `json:"-" db:"smtp_username"`
	SMTPPass  string       `json:"-" db:"smtp_password"`
	AWSKey    string       `json:"-" db:"aws_access_key"`
	AWSSecret string       `json:"-" db:"aws_secret_key"`
	AWSRegion string       `json:"aws_region" db:"aws_region"`
	Status    string       `json:"status" db:"status"`
}

// OutboundMessage is a fully-rendered message ready for a delivery executor.
// By the time a message reaches this struct, all template substitution is
// complete.
type OutboundMessage struct {
	CampaignID  string            `json:"campaign_id"`
	ContactID   string            `json:"contact_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a delivery executor after attempting
// transmission. Success means the provider accepted the message, not that
// it reached the inbox; delivery and engagement arrive later as tracking
// events.
type SendResult struct {
	Success   bool         `json:"success"`
	MessageID string       `json:"message_id"`
	Provider  ProviderType `json:"provider"`
	SentAt    time.Time    `json:"sent_at"`
	Error     string       `json:"error,omitempty"`
}

// Contact is the slice of a contact record the dispatcher needs for
// rendering and addressing. Contact CRUD lives outside this engine.
type Contact struct {
	ID        string            `json:"id" db:"id"`
	Email     string            `json:"email" db:"email"`
	FirstName string            `json:"first_name" db:"first_name"`
	LastName  string            `json:"last_name" db:"last_name"`
	Company   string            `json:"company" db:"company"`
	Title     string            `json:"title" db:"title"`
	Fields    map[string]string `json:"fields,omitempty"`
}
