package bapp

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-secretsmanager-caching-go/v2/secretcache"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ErrSecretNotFound is returned when a secret, or a path inside of it, does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// SecretReader reads secret strings by id.
type SecretReader interface {
	GetSecretString(ctx context.Context, secretID string) (string, error)
}

// AWSSecretReader reads secrets from AWS Secrets Manager through a cache, so rotated secrets are
// picked up once the cached copy expires.
type AWSSecretReader struct {
	cache *secretcache.Cache
}

// NewAWSSecretReader creates a reader for the secrets manager of cfg's region. A ttl of zero keeps
// the library default.
func NewAWSSecretReader(cfg aws.Config, ttl time.Duration) (*AWSSecretReader, error) {
	client := secretsmanager.NewFromConfig(cfg)
	cache, err := secretcache.New(func(c *secretcache.Cache) {
		c.Client = client
		if ttl > 0 {
			c.CacheItemTTL = ttl.Nanoseconds()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create secret cache")
	}
	return &AWSSecretReader{cache: cache}, nil
}

func (r *AWSSecretReader) GetSecretString(ctx context.Context, secretID string) (string, error) {
	secret, err := r.cache.GetSecretStringWithContext(ctx, secretID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get secret %q", secretID)
	}
	return secret, nil
}

// StaticSecretReader serves secrets from a map, for tests and local development.
type StaticSecretReader map[string]string

func (r StaticSecretReader) GetSecretString(_ context.Context, secretID string) (string, error) {
	secret, ok := r[secretID]
	if !ok {
		return "", errors.Wrapf(ErrSecretNotFound, "%q", secretID)
	}
	return secret, nil
}

// readSecret reads a secret and, given a gjson path, extracts that field from it.
func readSecret(ctx context.Context, reader SecretReader, secretID string, jsonPath ...string) (string, error) {
	if len(jsonPath) > 1 {
		return "", errors.New("bapp: Secret accepts at most one jsonPath argument")
	}

	secret, err := reader.GetSecretString(ctx, secretID)
	if err != nil {
		return "", err
	}

	if len(jsonPath) == 0 || jsonPath[0] == "" {
		return secret, nil
	}

	if !gjson.Valid(secret) {
		return "", errors.Newf("secret %q is not valid JSON", secretID)
	}

	result := gjson.Get(secret, jsonPath[0])
	if !result.Exists() {
		return "", errors.Wrapf(ErrSecretNotFound, "path %q in secret %q", jsonPath[0], secretID)
	}

	return result.String(), nil
}

var (
	_ SecretReader = &AWSSecretReader{}
	_ SecretReader = StaticSecretReader{}
)
