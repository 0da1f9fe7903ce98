package docker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnavailableClient(t *testing.T) {
	ctx := context.Background()
	c := &Client{}

	assert.False(t, c.Available())

	_, err := c.ListContainers(ctx)
	assert.ErrorIs(t, err, ErrDockerUnavailable)

	_, err = c.ContainerState(ctx, "abc")
	assert.ErrorIs(t, err, ErrDockerUnavailable)

	assert.ErrorIs(t, c.Start(ctx, "abc"), ErrDockerUnavailable)
	assert.ErrorIs(t, c.Restart(ctx, "abc", time.Second), ErrDockerUnavailable)
	assert.NoError(t, c.Close())

	var nilClient *Client
	assert.False(t, nilClient.Available())
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "backup-job", containerName([]string{"/backup-job", "/alias"}))
	assert.Equal(t, "plain", containerName([]string{"plain"}))
	assert.Equal(t, "", containerName(nil))
}
