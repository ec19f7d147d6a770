// Package secrets supplies database credentials on demand, either from AWS
// Secrets Manager or from static configuration.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tidwall/gjson"

	"github.com/timmy/dishrank/internal/config"
)

// Credentials are the connection settings for the canonical store.
type Credentials struct {
	Username string
	Password string
	Host     string
	Port     int
	DBName   string
}

// Apply copies non-empty credential values over cfg.
func (c *Credentials) Apply(cfg *config.DatabaseConfig) {
	if c.Username != "" {
		cfg.User = c.Username
	}
	if c.Password != "" {
		cfg.Password = c.Password
	}
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.DBName != "" {
		cfg.DBName = c.DBName
	}
}

// Provider returns database credentials.
type Provider interface {
	DatabaseCredentials(ctx context.Context) (*Credentials, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerProvider reads a JSON secret of the form
// {"username","password","host","port","dbname"} and caches it for ttl.
type SecretsManagerProvider struct {
	client   SecretsManagerAPI
	secretID string
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cached    *Credentials
	fetchedAt time.Time
}

// NewSecretsManagerProvider creates a provider for secretID.
// Parameters:
//   - client: Secrets Manager client (or a fake in tests).
//   - secretID: secret name or ARN.
//   - ttl: how long fetched credentials are reused; 0 disables caching.
// Returns:
//   - *SecretsManagerProvider: ready provider.
func NewSecretsManagerProvider(client SecretsManagerAPI, secretID string, ttl time.Duration) *SecretsManagerProvider {
	return &SecretsManagerProvider{
		client:   client,
		secretID: secretID,
		ttl:      ttl,
		now:      time.Now,
	}
}

// NewSecretsManagerClient builds a Secrets Manager client from the AWS settings.
func NewSecretsManagerClient(ctx context.Context, cfg config.AWSConfig) (*secretsmanager.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// DatabaseCredentials returns cached credentials or fetches the secret.
func (p *SecretsManagerProvider) DatabaseCredentials(ctx context.Context) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.ttl > 0 && p.now().Sub(p.fetchedAt) < p.ttl {
		c := *p.cached
		return &c, nil
	}

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", p.secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", p.secretID)
	}

	creds, err := parseCredentials(*out.SecretString)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", p.secretID, err)
	}

	p.cached = creds
	p.fetchedAt = p.now()
	c := *creds
	return &c, nil
}

func parseCredentials(secret string) (*Credentials, error) {
	if !gjson.Valid(secret) {
		return nil, errors.New("secret is not valid JSON")
	}
	doc := gjson.Parse(secret)
	creds := &Credentials{
		Username: doc.Get("username").String(),
		Password: doc.Get("password").String(),
		Host:     doc.Get("host").String(),
		Port:     int(doc.Get("port").Int()),
		DBName:   doc.Get("dbname").String(),
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, errors.New("secret is missing username or password")
	}
	return creds, nil
}

// StaticProvider serves credentials taken from configuration.
type StaticProvider struct {
	creds Credentials
}

// NewStaticProvider builds a provider from the database section of the config.
func NewStaticProvider(cfg config.DatabaseConfig) *StaticProvider {
	return &StaticProvider{creds: Credentials{
		Username: cfg.User,
		Password: cfg.Password,
		Host:     cfg.Host,
		Port:     cfg.Port,
		DBName:   cfg.DBName,
	}}
}

// DatabaseCredentials returns a copy of the static credentials.
func (p *StaticProvider) DatabaseCredentials(context.Context) (*Credentials, error) {
	c := p.creds
	return &c, nil
}

// NewProvider picks Secrets Manager when a secret ARN is configured, otherwise
// the static database settings.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	if cfg.Secrets.SecretARN == "" {
		return NewStaticProvider(cfg.Database), nil
	}
	client, err := NewSecretsManagerClient(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return NewSecretsManagerProvider(client, cfg.Secrets.SecretARN, cfg.Secrets.CacheTTL), nil
}
