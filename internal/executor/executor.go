// Package executor implements delivery executors: given one rendered
// message and one email account, transmit the email via the account's
// provider and report the outcome.
//
// Executors distinguish two failure classes the dispatcher treats very
// differently. A transmission error (returned inside SendResult or as a
// plain error) fails that one contact. ErrAccountConfig means the account
// itself is unusable (missing credentials, unknown provider) and the
// dispatcher skips the rest of the batch for that account instead of
// mass-failing a healthy audience.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/outreach-engine/internal/domain"
)

// ErrAccountConfig marks an email account as unusable for the remainder of
// the current run. Check with errors.Is.
var ErrAccountConfig = errors.New("email account misconfigured")

// Executor transmits one message through one email account.
type Executor interface {
	Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (*domain.SendResult, error)
}

// Registry resolves the executor for an email account's provider.
type Registry struct {
	ses  Executor
	smtp Executor
}

// NewRegistry creates a registry with the standard SES and SMTP executors.
func NewRegistry() *Registry {
	return &Registry{
		ses:  NewSESExecutor(),
		smtp: NewSMTPExecutor(),
	}
}

// NewRegistryWith creates a registry with explicit executors (used in tests).
func NewRegistryWith(ses, smtp Executor) *Registry {
	return &Registry{ses: ses, smtp: smtp}
}

// For returns the executor for the account's provider. An unknown provider
// is an account configuration error.
func (r *Registry) For(account *domain.EmailAccount) (Executor, error) {
	switch account.Provider {
	case domain.ProviderSES:
		return r.ses, nil
	case domain.ProviderSMTP:
		return r.smtp, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrAccountConfig, account.Provider)
	}
}
