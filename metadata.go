package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// metadataProvider tells a worker who and where it is. The production
// implementation is the IMDSv2 endpoint; tests and bare-metal runs use the
// environment fallback.
type metadataProvider interface {
	WorkerID(ctx context.Context) (string, error)
	Region(ctx context.Context) (string, error)
	PublicEndpoint(ctx context.Context) (string, error)
}

type imdsMetadata struct {
	client *imds.Client
}

func newIMDSMetadata(ctx context.Context) (*imdsMetadata, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config for imds: %w", err)
	}
	return &imdsMetadata{client: imds.NewFromConfig(awsCfg)}, nil
}

func (m *imdsMetadata) path(ctx context.Context, path string) (string, error) {
	out, err := m.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", fmt.Errorf("imds %s: %w", path, err)
	}
	defer out.Content.Close()
	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("imds read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *imdsMetadata) WorkerID(ctx context.Context) (string, error) {
	return m.path(ctx, "instance-id")
}

func (m *imdsMetadata) Region(ctx context.Context) (string, error) {
	out, err := m.client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("imds region: %w", err)
	}
	return out.Region, nil
}

func (m *imdsMetadata) PublicEndpoint(ctx context.Context) (string, error) {
	// Instances without a public address are fine; the endpoint is
	// informational only.
	ip, err := m.path(ctx, "public-ipv4")
	if err != nil {
		return "", nil
	}
	return ip, nil
}

// envMetadata reads identity from the environment. Used when the worker
// runs outside the cloud (development, containers with injected identity).
type envMetadata struct{}

func (envMetadata) WorkerID(ctx context.Context) (string, error) {
	id := os.Getenv("NIGHTCLOUD_WORKER_ID")
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("NIGHTCLOUD_WORKER_ID unset and hostname unavailable: %w", err)
		}
		id = host
	}
	return id, nil
}

func (envMetadata) Region(ctx context.Context) (string, error) {
	region := os.Getenv("NIGHTCLOUD_REGION")
	if region == "" {
		return "", fmt.Errorf("NIGHTCLOUD_REGION unset")
	}
	return region, nil
}

func (envMetadata) PublicEndpoint(ctx context.Context) (string, error) {
	return os.Getenv("NIGHTCLOUD_PUBLIC_ENDPOINT"), nil
}

// resolveMetadata prefers IMDS, falling back to the environment when the
// metadata endpoint is unreachable.
func resolveMetadata(ctx context.Context) metadataProvider {
	m, err := newIMDSMetadata(ctx)
	if err != nil {
		logger.Warn("imds unavailable, using environment identity", "error", err)
		return envMetadata{}
	}
	if _, err := m.WorkerID(ctx); err != nil {
		logger.Warn("imds unavailable, using environment identity", "error", err)
		return envMetadata{}
	}
	return m
}
