// Package ec2 is a provider adapter backed by AWS EC2, grounded on the
// teacher's app/drivers/amazon driver: it keeps the RunInstances / tagging
// / security-group lookup shape, trimmed to what the pool controller's
// provider contract needs.
package ec2

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/dchest/uniuri"
	"github.com/sirupsen/logrus"

	"github.com/vbrowser-pool/controller/internal/perrors"
	"github.com/vbrowser-pool/controller/internal/providers"
	"github.com/vbrowser-pool/controller/types"
)

var _ providers.Adapter = (*Adapter)(nil)

// ec2API is the subset of the EC2 client the adapter drives, narrowed for
// testability the way the teacher's ec2ClientAPI interface is.
type ec2API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	StartInstances(ctx context.Context, in *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateImage(ctx context.Context, in *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
}

// Config configures the adapter's AMI, instance sizes, and network.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	AMI             string
	Size            string
	LargeSize       string
	SubnetID        string
	SecurityGroups  []string
	MinRetries      int
}

// Adapter drives AWS EC2 as the pool controller's provider.
type Adapter struct {
	cfg    Config
	client ec2API
}

// New builds an EC2-backed adapter, loading static or ambient AWS
// credentials the way the teacher's amazon driver does.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("ec2: failed to load AWS config: %w", err)
	}
	if cfg.MinRetries == 0 {
		cfg.MinRetries = 3
	}
	return &Adapter{cfg: cfg, client: ec2.NewFromConfig(awsCfg)}, nil
}

func (a *Adapter) StartVM(ctx context.Context, tag, name string) (string, error) {
	if name == "" {
		name = uniuri.NewLen(12)
	}
	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(a.cfg.AMI),
		InstanceType: ec2types.InstanceType(a.cfg.Size),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(name)},
					{Key: aws.String("vbrowser-pool"), Value: aws.String(tag)},
				},
			},
		},
	}
	if a.cfg.SubnetID != "" {
		in.SubnetId = aws.String(a.cfg.SubnetID)
	}
	if len(a.cfg.SecurityGroups) > 0 {
		in.SecurityGroupIds = a.cfg.SecurityGroups
	}

	out, err := a.client.RunInstances(ctx, in)
	if err != nil {
		return "", &perrors.Transient{Err: fmt.Errorf("ec2: run instances: %w", err)}
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", &perrors.Transient{Err: errors.New("ec2: run instances returned no instance id")}
	}
	return *out.Instances[0].InstanceId, nil
}

func (a *Adapter) TerminateVM(ctx context.Context, vmid string) error {
	_, err := a.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{vmid}})
	if err != nil {
		if is404(err) {
			return &perrors.NotFound{VMID: vmid}
		}
		return &perrors.Transient{Err: err}
	}
	return nil
}

// RebootVM terminates the instance through TerminateVM. It does not reboot,
// rename or rebuild the instance, and it does not start a replacement.
func (a *Adapter) RebootVM(ctx context.Context, vmid string) error {
	return a.TerminateVM(ctx, vmid)
}

func (a *Adapter) GetVM(ctx context.Context, vmid string) (*types.Descriptor, error) {
	out, err := a.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{vmid}})
	if err != nil {
		if is404(err) {
			return nil, &perrors.NotFound{VMID: vmid}
		}
		return nil, &perrors.Transient{Err: err}
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, &perrors.NotFound{VMID: vmid}
	}
	inst := out.Reservations[0].Instances[0]
	if inst.PublicIpAddress == nil && inst.PrivateIpAddress == nil {
		return nil, nil
	}
	return instanceToDescriptor(&inst), nil
}

func (a *Adapter) ListVMs(ctx context.Context, tag string) ([]*types.Descriptor, error) {
	out, err := a.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:vbrowser-pool"), Values: []string{tag}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	if err != nil {
		return nil, &perrors.Transient{Err: err}
	}
	var descriptors []*types.Descriptor
	for _, res := range out.Reservations {
		for i := range res.Instances {
			descriptors = append(descriptors, instanceToDescriptor(&res.Instances[i]))
		}
	}
	return descriptors, nil
}

func (a *Adapter) PowerOn(ctx context.Context, vmid string) error {
	_, err := a.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{vmid}})
	if err != nil {
		if is404(err) {
			return &perrors.NotFound{VMID: vmid}
		}
		return &perrors.Transient{Err: err}
	}
	return nil
}

// AttachToNetwork is a no-op on EC2: instances are attached to their
// subnet's network at launch and there is no separate attach step.
func (a *Adapter) AttachToNetwork(_ context.Context, _ string) error {
	return nil
}

func (a *Adapter) UpdateSnapshot(ctx context.Context) (string, error) {
	bf := backoff.NewExponentialBackOff()
	bf.MaxElapsedTime = 2 * time.Minute
	var imageID string
	op := func() error {
		out, err := a.client.CreateImage(ctx, &ec2.CreateImageInput{
			Name:        aws.String(fmt.Sprintf("vbrowser-pool-%d", time.Now().Unix())),
			InstanceId:  aws.String(a.cfg.AMI),
			Description: aws.String("vbrowser pool maintenance snapshot"),
		})
		if err != nil {
			return err
		}
		imageID = aws.ToString(out.ImageId)
		return nil
	}
	if err := backoff.Retry(op, bf); err != nil {
		return "", &perrors.Transient{Err: err}
	}
	return imageID, nil
}

func (a *Adapter) Size() string      { return a.cfg.Size }
func (a *Adapter) LargeSize() string { return a.cfg.LargeSize }
func (a *Adapter) MinRetries() int   { return a.cfg.MinRetries }

func instanceToDescriptor(inst *ec2types.Instance) *types.Descriptor {
	host := aws.ToString(inst.PublicIpAddress)
	if host == "" {
		host = aws.ToString(inst.PrivateIpAddress)
	}
	tags := map[string]string{}
	for _, t := range inst.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	created := time.Now()
	if inst.LaunchTime != nil {
		created = *inst.LaunchTime
	}
	return &types.Descriptor{
		ID:        aws.ToString(inst.InstanceId),
		Host:      host + "/",
		PrivateIP: aws.ToString(inst.PrivateIpAddress),
		State:     string(inst.State.Name),
		Tags:      tags,
		Created:   created,
		Provider:  "aws",
	}
}

func is404(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
			return true
		}
	}
	logrus.WithError(err).Traceln("ec2: treating error as transient")
	return false
}
