package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const workerRoleTag = "nightcloud-role"

// computeProvider is the slice of the control plane the coordinator uses:
// peer discovery for leader election plus operator launch/scale/terminate.
type computeProvider interface {
	LiveWorkers(ctx context.Context) ([]string, error)
	LaunchWorkers(ctx context.Context, count int) ([]string, error)
	TerminateWorkers(ctx context.Context, instanceIDs []string) error
	SetDesiredCount(ctx context.Context, count int) error
}

type ec2Compute struct {
	client           *ec2.Client
	launchTemplateID string
}

func newEC2Compute(ctx context.Context, cfg Config) (*ec2Compute, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for ec2: %w", err)
	}
	return &ec2Compute{
		client:           ec2.NewFromConfig(awsCfg),
		launchTemplateID: cfg.LaunchTemplateID,
	}, nil
}

// LiveWorkers returns the sorted instance IDs of running workers in the
// region. Sorted so every caller sees the same leader-election order.
func (c *ec2Compute) LiveWorkers(ctx context.Context) ([]string, error) {
	var ids []string
	paginator := ec2.NewDescribeInstancesPaginator(c.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + workerRoleTag), Values: []string{"worker"}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe workers: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				ids = append(ids, aws.ToString(inst.InstanceId))
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *ec2Compute) LaunchWorkers(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	if c.launchTemplateID == "" {
		return nil, fmt.Errorf("fleet.launch_template_id is required to launch workers")
	}
	out, err := c.client.RunInstances(ctx, &ec2.RunInstancesInput{
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(c.launchTemplateID),
		},
		MinCount: aws.Int32(int32(count)),
		MaxCount: aws.Int32(int32(count)),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String(workerRoleTag), Value: aws.String("worker")},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("launch %d workers: %w", count, err)
	}
	ids := make([]string, 0, len(out.Instances))
	for _, inst := range out.Instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	return ids, nil
}

func (c *ec2Compute) TerminateWorkers(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	if _, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: instanceIDs,
	}); err != nil {
		return fmt.Errorf("terminate workers: %w", err)
	}
	return nil
}

// SetDesiredCount converges the running worker set toward count by
// launching or terminating. Terminations take the lexicographically last
// instances, which matches leader election keeping the first.
func (c *ec2Compute) SetDesiredCount(ctx context.Context, count int) error {
	if count < 0 {
		return fmt.Errorf("desired count must not be negative, got %d", count)
	}
	live, err := c.LiveWorkers(ctx)
	if err != nil {
		return err
	}
	switch {
	case len(live) < count:
		launched, err := c.LaunchWorkers(ctx, count-len(live))
		if err != nil {
			return err
		}
		logger.Info("launched workers", "count", len(launched))
	case len(live) > count:
		victims := live[count:]
		if err := c.TerminateWorkers(ctx, victims); err != nil {
			return err
		}
		logger.Info("terminated workers", "count", len(victims))
	}
	return nil
}
