// Package sesnotify delivers notify messages through AWS SES.
package sesnotify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/castellan-auth/castellan/notify"
)

// Notifier implements notify.Notifier on the SES v2 SDK client.
type Notifier struct {
	client   *ses.Client
	registry *notify.Registry
	from     string
}

// New wraps an SES client. from is the verified sender address.
func New(client *ses.Client, from string) (*Notifier, error) {
	registry, err := notify.NewRegistry()
	if err != nil {
		return nil, err
	}
	return &Notifier{client: client, registry: registry, from: from}, nil
}

// NewFromEnv builds the SES client from the default AWS configuration
// chain (environment, shared config, instance metadata).
func NewFromEnv(ctx context.Context, from string) (*Notifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("sesnotify: load aws config: %w", err)
	}
	return New(ses.NewFromConfig(cfg), from)
}

// Register overrides the built-in template for kind.
func (n *Notifier) Register(kind notify.Kind, tmpl notify.Template) error {
	return n.registry.Register(kind, tmpl)
}

// Send renders the template and submits it to SES.
func (n *Notifier) Send(ctx context.Context, kind notify.Kind, recipient string, vars map[string]string) error {
	subject, body, err := n.registry.Render(kind, vars)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("sesnotify: send %s to %s: %w", kind, recipient, err)
	}
	return nil
}
