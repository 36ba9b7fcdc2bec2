package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/tarenord/seqveil"
)

// secretsManagerClient interface for AWS Secrets Manager operations (allows mocking)
type secretsManagerClient interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// SecretsManagerKeySource implements seqveil.KeySource using AWS Secrets
// Manager, one secret per binding identity.
type SecretsManagerKeySource struct {
	client secretsManagerClient
	region string
}

// NewSecretsManagerKeySource creates a key source over AWS Secrets Manager.
//
// Usage:
//
//	// Using default AWS configuration
//	source, err := aws.NewSecretsManagerKeySource(ctx, aws.Config{})
//
//	// With specific region
//	source, err := aws.NewSecretsManagerKeySource(ctx, aws.Config{Region: "us-east-1"})
//
//	// With custom AWS config
//	awsCfg, _ := config.LoadDefaultConfig(ctx)
//	source, err := aws.NewSecretsManagerKeySource(ctx, aws.Config{AWSConfig: &awsCfg})
func NewSecretsManagerKeySource(ctx context.Context, cfg Config) (*SecretsManagerKeySource, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}

		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", seqveil.ErrKeySourceUnavailable, err)
		}
	}

	return &SecretsManagerKeySource{
		client: secretsmanager.NewFromConfig(awsConfig),
		region: awsConfig.Region,
	}, nil
}

// GetStoragePath returns the Secrets Manager secret name holding a binding's
// key.
//
// Path format: "seqveil/{identity}/key"
func (s *SecretsManagerKeySource) GetStoragePath(identity seqveil.BindingIdentity) string {
	return fmt.Sprintf(seqveil.AWSKeyPathTemplate, identity.String())
}

// ResolveKey reads the key stored for a binding identity.
//
// A missing secret, an unreachable endpoint and a malformed value are all
// reported as ErrKeySourceUnavailable; a stored value outside [0, MaxKey]
// is an InvalidParameter because no retry will repair it.
func (s *SecretsManagerKeySource) ResolveKey(ctx context.Context, identity seqveil.BindingIdentity) (uint32, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}

	secretName := s.GetStoragePath(identity)

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return 0, fmt.Errorf("%w: no key stored for binding '%s'", seqveil.ErrKeySourceUnavailable, identity.String())
		}
		return 0, fmt.Errorf("%w: failed to get key from Secrets Manager: %w", seqveil.ErrKeySourceUnavailable, err)
	}

	if result.SecretString == nil {
		return 0, fmt.Errorf("%w: key value not found for binding '%s'", seqveil.ErrKeySourceUnavailable, identity.String())
	}

	key, err := strconv.ParseUint(*result.SecretString, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: stored key for binding '%s' is not a decimal integer: %w",
			seqveil.ErrKeySourceUnavailable, identity.String(), err)
	}
	if key > seqveil.MaxKey {
		return 0, seqveil.NewInvalidParameterError("key", key,
			fmt.Sprintf("stored for binding '%s' must be below 2^%d", identity.String(), seqveil.KeyBits))
	}

	return uint32(key), nil
}

// ProvisionKey stores a binding's key, creating the secret on first use and
// versioning it afterwards. Overwriting an existing key orphans identifiers
// composed under the previous value, so provisioning belongs in setup, not
// in row paths.
func (s *SecretsManagerKeySource) ProvisionKey(ctx context.Context, identity seqveil.BindingIdentity, key uint32) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if key > seqveil.MaxKey {
		return seqveil.NewInvalidParameterError("key", key, fmt.Sprintf("must be below 2^%d", seqveil.KeyBits))
	}

	secretName := s.GetStoragePath(identity)
	value := strconv.FormatUint(uint64(key), 10)

	exists, err := s.KeyExists(ctx, identity)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(secretName),
			SecretString: aws.String(value),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to update key in Secrets Manager: %w", seqveil.ErrKeySourceUnavailable, err)
		}
	} else {
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(secretName),
			Description:  aws.String(fmt.Sprintf("seqveil binding key for %s", identity.String())),
			SecretString: aws.String(value),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to create key in Secrets Manager: %w", seqveil.ErrKeySourceUnavailable, err)
		}
	}

	return nil
}

// KeyExists checks whether a key is stored for a binding identity.
//
// Returns an error only for actual failures, not for "secret not found".
func (s *SecretsManagerKeySource) KeyExists(ctx context.Context, identity seqveil.BindingIdentity) (bool, error) {
	if err := identity.Validate(); err != nil {
		return false, err
	}

	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(s.GetStoragePath(identity)),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to check if key exists: %w", seqveil.ErrKeySourceUnavailable, err)
	}

	return true, nil
}

// Region returns the AWS region this key source is configured for.
func (s *SecretsManagerKeySource) Region() string {
	return s.region
}
