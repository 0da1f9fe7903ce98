package docker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

var ErrDockerUnavailable = errors.New("docker unavailable")

// Client wraps the Docker Engine API for container remediation. A Client
// whose daemon could not be reached answers every call with ErrDockerUnavailable.
type Client struct {
	cli *client.Client
}

type ContainerSummary struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image"`
	State  string            `json:"state"`
	Status string            `json:"status"`
	Labels map[string]string `json:"labels"`
}

func NewClient(ctx context.Context) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return &Client{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pctx); err != nil {
		_ = cli.Close()
		return &Client{}, err
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Available() bool {
	return c != nil && c.cli != nil
}

func (c *Client) ListContainers(ctx context.Context) ([]ContainerSummary, error) {
	if !c.Available() {
		return nil, ErrDockerUnavailable
	}
	res, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, err
	}
	out := make([]ContainerSummary, 0, len(res))
	for _, r := range res {
		out = append(out, ContainerSummary{
			ID:     r.ID,
			Name:   containerName(r.Names),
			Image:  r.Image,
			State:  r.State,
			Status: r.Status,
			Labels: r.Labels,
		})
	}
	return out, nil
}

func (c *Client) ContainerState(ctx context.Context, id string) (string, error) {
	if !c.Available() {
		return "", ErrDockerUnavailable
	}
	ins, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", err
	}
	if ins.State == nil {
		return "", nil
	}
	return ins.State.Status, nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	if !c.Available() {
		return ErrDockerUnavailable
	}
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *Client) Restart(ctx context.Context, id string, timeout time.Duration) error {
	if !c.Available() {
		return ErrDockerUnavailable
	}
	sec := int(timeout.Seconds())
	return c.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &sec})
}

func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	return c.cli.Close()
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
