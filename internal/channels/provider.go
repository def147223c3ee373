package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bookdesk/pkg/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// providerClient is the JSON-over-HTTP client shared by the email and SMS
// providers. Both authenticate with a bearer key that can be rotated.
type providerClient struct {
	channel    Name
	httpClient *resty.Client
	endpoint   string
	source     TokenSource
	log        *logger.Logger

	mu  sync.RWMutex
	key string
}

func newProviderClient(channel Name, endpoint, key string, source TokenSource, log *logger.Logger) *providerClient {
	return &providerClient{
		channel: channel,
		httpClient: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(10 * time.Second),
		endpoint: endpoint,
		source:   source,
		key:      key,
		log:      logger.OrNop(log).Named(string(channel)),
	}
}

func (c *providerClient) configured() bool {
	return c.endpoint != ""
}

func (c *providerClient) post(ctx context.Context, idempotencyKey string, body interface{}) error {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()

	req := c.httpClient.R().SetContext(ctx).SetBody(body)
	if key != "" {
		req.SetAuthToken(key)
	}
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}

	resp, err := req.Post(c.endpoint)
	if err != nil {
		c.log.Warn("provider request failed", zap.Error(err))
		return fmt.Errorf("%s request failed: %w", c.channel, err)
	}
	if resp.IsError() {
		c.log.Warn("provider returned an error",
			zap.Int("status", resp.StatusCode()),
			zap.String("idempotency_key", idempotencyKey))
		return newHTTPError(c.channel, resp)
	}
	return nil
}

func (c *providerClient) refresh(ctx context.Context) error {
	if c.source == nil {
		return ErrNoCredentialSource
	}
	key, err := c.source(ctx)
	if err != nil {
		return fmt.Errorf("%s credential refresh: %w", c.channel, err)
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	c.log.Info("provider credentials refreshed")
	return nil
}

type EmailConfig struct {
	Endpoint string
	APIKey   string
	From     string
	Source   TokenSource
}

// EmailSender posts messages to a transactional email provider.
type EmailSender struct {
	client *providerClient
	from   string
}

func NewEmailSender(cfg EmailConfig, log *logger.Logger) *EmailSender {
	return &EmailSender{
		client: newProviderClient(Email, cfg.Endpoint, cfg.APIKey, cfg.Source, log),
		from:   cfg.From,
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	Links   []string `json:"attachments,omitempty"`
}

func (s *EmailSender) Name() Name { return Email }

func (s *EmailSender) Available(r Recipient) bool {
	return s.client.configured() && r.Email != ""
}

func (s *EmailSender) Send(ctx context.Context, env Envelope) error {
	subject := env.Subject
	if subject == "" {
		subject = "New message from the bookstore"
	}
	req := emailRequest{
		From:    s.from,
		To:      env.Recipient.Email,
		Subject: subject,
		Text:    env.Body,
	}
	for _, a := range env.Attachments {
		req.Links = append(req.Links, a.URL)
	}
	return s.client.post(ctx, env.IdempotencyKey, req)
}

func (s *EmailSender) RefreshCredentials(ctx context.Context) error {
	return s.client.refresh(ctx)
}

type SMSConfig struct {
	Endpoint string
	APIKey   string
	From     string
	Source   TokenSource
}

// SMSSender posts messages to an SMS gateway. Bodies over one segment are
// cut to MaxSMSLength.
type SMSSender struct {
	client *providerClient
	from   string
}

const MaxSMSLength = 480

func NewSMSSender(cfg SMSConfig, log *logger.Logger) *SMSSender {
	return &SMSSender{
		client: newProviderClient(SMS, cfg.Endpoint, cfg.APIKey, cfg.Source, log),
		from:   cfg.From,
	}
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *SMSSender) Name() Name { return SMS }

func (s *SMSSender) Available(r Recipient) bool {
	return s.client.configured() && r.Phone != ""
}

func (s *SMSSender) Send(ctx context.Context, env Envelope) error {
	body := []rune(env.Body)
	if len(body) > MaxSMSLength {
		body = body[:MaxSMSLength]
	}
	return s.client.post(ctx, env.IdempotencyKey, smsRequest{
		From: s.from,
		To:   env.Recipient.Phone,
		Body: string(body),
	})
}

func (s *SMSSender) RefreshCredentials(ctx context.Context) error {
	return s.client.refresh(ctx)
}
