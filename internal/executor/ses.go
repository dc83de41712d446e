package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// SESExecutor sends via AWS SES using the SDK v2. Clients are built per
// account (accounts carry their own keys) and cached by account id.
type SESExecutor struct {
	mu      sync.Mutex
	clients map[string]*sesv2.Client
}

// NewSESExecutor creates an SES executor with an empty client cache.
func NewSESExecutor() *SESExecutor {
	return &SESExecutor{clients: make(map[string]*sesv2.Client)}
}

func (e *SESExecutor) client(ctx context.Context, account *domain.EmailAccount) (*sesv2.Client, error) {
	if account.AWSKey == "" || account.AWSSecret == "" {
		return nil, fmt.Errorf("%w: account %s has no AWS credentials", ErrAccountConfig, account.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[account.ID]; ok {
		return c, nil
	}

	region := account.AWSRegion
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(account.AWSKey, account.AWSSecret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %v", ErrAccountConfig, err)
	}

	c := sesv2.NewFromConfig(cfg)
	e.clients[account.ID] = c
	return c, nil
}

// Send delivers a single email through AWS SES.
func (e *SESExecutor) Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (*domain.SendResult, error) {
	client, err := e.client(ctx, account)
	if err != nil {
		return nil, err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("contact_id"), Value: aws.String(msg.ContactID)},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := client.SendEmail(ctx, input)
	if err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSES, Error: err.Error()}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	logger.Debug("ses send accepted", "recipient", msg.Email, "message_id", messageID)

	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  domain.ProviderSES,
		SentAt:    time.Now().UTC(),
	}, nil
}
