package devspace

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrContainerNotFound", ErrContainerNotFound, "container not found"},
		{"ErrDockerUnavailable", ErrDockerUnavailable, "docker not available"},
		{"ErrImagePull", ErrImagePull, "image pull failed"},
		{"ErrNoFreePort", ErrNoFreePort, "no free port"},
		{"ErrTerminalUnavailable", ErrTerminalUnavailable, "terminal unavailable"},
		{"ErrUnauthenticated", ErrUnauthenticated, "unauthenticated connection"},
		{"ErrPipelineNotFound", ErrPipelineNotFound, "pipeline not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestProvisionError(t *testing.T) {
	err := &ProvisionError{
		WorkspaceID: "ws-1",
		Op:          "pull",
		Err:         ErrImagePull,
	}

	assert.Equal(t, "provision workspace ws-1: pull: image pull failed", err.Error())
	assert.True(t, errors.Is(err, ErrImagePull))

	wrapped := fmt.Errorf("start: %w", err)
	assert.True(t, IsProvisionError(wrapped))
	assert.False(t, IsProvisionError(errors.New("connection refused")))

	var pe *ProvisionError
	if assert.True(t, errors.As(wrapped, &pe)) {
		assert.Equal(t, "ws-1", pe.WorkspaceID)
	}
}

func TestHomeOverride(t *testing.T) {
	t.Setenv("DEVSPACE_HOME", "/tmp/devspace-home")

	assert.Equal(t, "/tmp/devspace-home", Home())
	assert.Equal(t, "/tmp/devspace-home/devspace.db", DefaultDBPath())
	assert.Equal(t, "/tmp/devspace-home/workspaces", WorkspacesPath())
}
