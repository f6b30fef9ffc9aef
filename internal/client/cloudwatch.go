package client

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// AuthOptions selects the region and credentials used to reach CloudWatch
// Logs. Empty fields fall back to the default AWS resolution chain.
type AuthOptions struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// AuthFromEnv completes region and profile with the AWS_PROFILE,
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN values
// found through lookup.
func AuthFromEnv(region, profile string, lookup func(string) (string, bool)) AuthOptions {
	get := func(name string) string {
		v, _ := lookup(name)
		return v
	}
	if profile == "" {
		profile = get("AWS_PROFILE")
	}
	return AuthOptions{
		Region:          region,
		Profile:         profile,
		AccessKeyID:     get("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: get("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    get("AWS_SESSION_TOKEN"),
	}
}

// NewCloudWatchOptions builds the config load options for opts. A profile
// wins over static credentials, which are only used when both the key id
// and the secret are set.
func NewCloudWatchOptions(opts AuthOptions) []func(*config.LoadOptions) error {
	var cfgOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		return append(cfgOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		provider := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(provider))
	}
	return cfgOpts
}

// NewCloudWatchClient loads AWS configuration for opts and returns a
// CloudWatch Logs client. It serves as both the search and the ingest
// backend.
func NewCloudWatchClient(ctx context.Context, opts AuthOptions) (*cloudwatchlogs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, NewCloudWatchOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return cloudwatchlogs.NewFromConfig(cfg), nil
}
