// Package digitalocean is a provider adapter backed by the DigitalOcean
// API, grounded on the teacher's app/drivers/digitalocean driver.
package digitalocean

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"github.com/vbrowser-pool/controller/internal/perrors"
	"github.com/vbrowser-pool/controller/internal/providers"
	"github.com/vbrowser-pool/controller/types"
)

var _ providers.Adapter = (*Adapter)(nil)

// Config configures the adapter's droplet image, sizes, and region.
type Config struct {
	Token      string
	Region     string
	Image      string
	Size       string
	LargeSize  string
	MinRetries int
}

// Adapter drives the DigitalOcean API as the pool controller's provider.
type Adapter struct {
	cfg    Config
	client *godo.Client
}

// New builds a DigitalOcean-backed adapter from a personal access token.
func New(cfg Config) *Adapter {
	if cfg.MinRetries == 0 {
		cfg.MinRetries = 3
	}
	return &Adapter{cfg: cfg, client: newClient(cfg.Token)}
}

func newClient(pat string) *godo.Client {
	return godo.NewClient(oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: pat},
	)))
}

func (a *Adapter) StartVM(ctx context.Context, tag, name string) (string, error) {
	req := &godo.DropletCreateRequest{
		Name:   name,
		Region: a.cfg.Region,
		Size:   a.cfg.Size,
		Tags:   []string{tag},
		Image:  godo.DropletCreateImage{Slug: a.cfg.Image},
	}
	droplet, _, err := a.client.Droplets.Create(ctx, req)
	if err != nil {
		return "", &perrors.Transient{Err: fmt.Errorf("digitalocean: create droplet: %w", err)}
	}
	return strconv.Itoa(droplet.ID), nil
}

func (a *Adapter) TerminateVM(ctx context.Context, vmid string) error {
	id, err := strconv.Atoi(vmid)
	if err != nil {
		return &perrors.NotFound{VMID: vmid}
	}
	resp, err := a.client.Droplets.Delete(ctx, id)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return &perrors.NotFound{VMID: vmid}
		}
		return &perrors.Transient{Err: err}
	}
	return nil
}

// RebootVM power-cycles the droplet. It does not rename or rebuild the
// droplet, so the droplet keeps its name and its credentials are not
// rotated by the reboot.
func (a *Adapter) RebootVM(ctx context.Context, vmid string) error {
	id, err := strconv.Atoi(vmid)
	if err != nil {
		return &perrors.NotFound{VMID: vmid}
	}
	_, _, rebootErr := a.client.DropletActions.Reboot(ctx, id)
	if rebootErr != nil {
		return &perrors.Transient{Err: rebootErr}
	}
	return nil
}

func (a *Adapter) GetVM(ctx context.Context, vmid string) (*types.Descriptor, error) {
	id, err := strconv.Atoi(vmid)
	if err != nil {
		return nil, &perrors.NotFound{VMID: vmid}
	}
	droplet, resp, err := a.client.Droplets.Get(ctx, id)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, &perrors.NotFound{VMID: vmid}
		}
		return nil, &perrors.Transient{Err: err}
	}
	d := dropletToDescriptor(droplet)
	if d.Host == "/" {
		// no public IP yet: the descriptor is incomplete
		return nil, nil
	}
	return d, nil
}

func (a *Adapter) ListVMs(ctx context.Context, tag string) ([]*types.Descriptor, error) {
	droplets, _, err := a.client.Droplets.ListByTag(ctx, tag, &godo.ListOptions{})
	if err != nil {
		return nil, &perrors.Transient{Err: err}
	}
	descriptors := make([]*types.Descriptor, 0, len(droplets))
	for i := range droplets {
		descriptors = append(descriptors, dropletToDescriptor(&droplets[i]))
	}
	return descriptors, nil
}

func (a *Adapter) PowerOn(ctx context.Context, vmid string) error {
	id, err := strconv.Atoi(vmid)
	if err != nil {
		return &perrors.NotFound{VMID: vmid}
	}
	_, _, powerErr := a.client.DropletActions.PowerOn(ctx, id)
	if powerErr != nil {
		return &perrors.Transient{Err: powerErr}
	}
	return nil
}

// AttachToNetwork is a no-op: droplets are attached to their VPC at
// creation and DigitalOcean has no separate attach step.
func (a *Adapter) AttachToNetwork(_ context.Context, _ string) error {
	return nil
}

func (a *Adapter) UpdateSnapshot(ctx context.Context) (string, error) {
	droplets, _, err := a.client.Droplets.ListByTag(ctx, "vbrowser-pool-base", &godo.ListOptions{})
	if err != nil || len(droplets) == 0 {
		return "", &perrors.Transient{Err: fmt.Errorf("digitalocean: no base droplet to snapshot: %w", err)}
	}
	action, _, err := a.client.DropletActions.Snapshot(ctx, droplets[0].ID, fmt.Sprintf("vbrowser-pool-%d", time.Now().Unix()))
	if err != nil {
		return "", &perrors.Transient{Err: err}
	}
	return strconv.Itoa(action.ResourceID), nil
}

func (a *Adapter) Size() string      { return a.cfg.Size }
func (a *Adapter) LargeSize() string { return a.cfg.LargeSize }
func (a *Adapter) MinRetries() int   { return a.cfg.MinRetries }

func dropletToDescriptor(d *godo.Droplet) *types.Descriptor {
	host := ""
	for _, n := range d.Networks.V4 {
		if n.Type == "public" {
			host = n.IPAddress
		}
	}
	created, _ := time.Parse(time.RFC3339, d.Created)
	return &types.Descriptor{
		ID:       strconv.Itoa(d.ID),
		Host:     host + "/",
		State:    d.Status,
		Tags:     tagSet(d.Tags),
		Created:  created,
		Provider: "digitalocean",
		Region:   d.Region.Slug,
	}
}

func tagSet(tags []string) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t] = "true"
	}
	return m
}
