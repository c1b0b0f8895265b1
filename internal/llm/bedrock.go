package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const defaultBedrockRegion = "us-east-1"

// newBedrockBackend builds an Anthropic provider that talks to AWS Bedrock.
// The credential is either "ACCESS_KEY_ID:SECRET_ACCESS_KEY" or empty to use
// the default AWS credential chain.
func newBedrockBackend(ctx context.Context, o BackendOptions) (Provider, error) {
	region := defaultBedrockRegion
	if o.Env != nil {
		for _, key := range []string{"AWS_BEDROCK_REGION", "AWS_REGION"} {
			if v, ok := o.Env.Lookup(key); ok && strings.TrimSpace(v) != "" {
				region = strings.TrimSpace(v)
				break
			}
		}
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	credential := "aws_default_chain"
	if o.APIKey != "" {
		id, secret, ok := strings.Cut(o.APIKey, ":")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("bedrock credential must be ACCESS_KEY_ID:SECRET_ACCESS_KEY")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, "")))
		credential = "aws_static"
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	opts := append([]option.RequestOption{bedrock.WithConfig(cfg)}, sdkOptions(BackendOptions{Timeout: o.Timeout, MaxRetries: o.MaxRetries})...)
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		client:     &client,
		model:      o.Model,
		name:       "Bedrock",
		credential: credential,
	}, nil
}
