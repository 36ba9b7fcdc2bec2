// Package aws resolves binding keys from AWS Secrets Manager.
//
// Each binding identity maps to one secret holding the key as a decimal
// string, so keys survive loss of the local registry and stay out of
// database catalogs and manifests.
//
// # Basic Usage
//
//	import (
//	    "github.com/tarenord/seqveil"
//	    awskeys "github.com/tarenord/seqveil/providers/keys/aws"
//	)
//
//	source, err := awskeys.NewSecretsManagerKeySource(ctx, awskeys.Config{
//	    Region: "us-east-1",
//	})
//	if err != nil {
//	    // handle error
//	}
//
//	engine, err := seqveil.New(salt, seqveil.WithKeySource(source))
//
// With an empty Config the client falls back to the default AWS credential
// and region chain (environment, shared config, instance metadata).
//
// # Key Storage
//
// Keys are stored under the secret name format:
//
//	seqveil/{identity}/key
//
// For example, a binding deriving orders.public_id from orders.id keeps its
// key at:
//
//	seqveil/orders:id:public_id/key
//
// # IAM Permissions
//
// Resolving keys needs secretsmanager:GetSecretValue on the seqveil/*
// secrets; provisioning through ProvisionKey additionally needs
// CreateSecret, PutSecretValue and DescribeSecret:
//
//	{
//	    "Effect": "Allow",
//	    "Action": [
//	        "secretsmanager:GetSecretValue",
//	        "secretsmanager:DescribeSecret",
//	        "secretsmanager:CreateSecret",
//	        "secretsmanager:PutSecretValue"
//	    ],
//	    "Resource": "arn:aws:secretsmanager:*:*:secret:seqveil/*"
//	}
//
// # Error Handling
//
// Transport failures, missing secrets and malformed values are wrapped with
// seqveil.ErrKeySourceUnavailable; a stored value outside the 31-bit key
// space is reported as seqveil.ErrInvalidParameter because retrying will not
// fix it.
//
// Never rotate a binding's secret to a new value: identifiers composed under
// the old key stop inverting. Secrets Manager staging labels and version
// history exist for recovery, not for rotation of these keys.
package aws
