// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

//go:build integration

package testinfra

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// SkipContainersEnvVar disables container-backed tests when set to any
// non-empty value, e.g. on CI runners without a Docker socket.
const SkipContainersEnvVar = "STOREGATE_SKIP_CONTAINERS"

var (
	dockerOnce      sync.Once
	dockerAvailable bool
)

// SkipIfNoDocker skips the test when containers cannot be started.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()
	if os.Getenv(SkipContainersEnvVar) != "" {
		t.Skipf("Skipping test: %s is set", SkipContainersEnvVar)
	}
	if !IsDockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}
}

// IsDockerAvailable reports whether `docker info` succeeds. The probe runs
// once per test binary.
func IsDockerAvailable() bool {
	dockerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dockerAvailable = exec.CommandContext(ctx, "docker", "info").Run() == nil
	})
	return dockerAvailable
}

// CleanupContainer terminates container, logging rather than failing on
// error.
func CleanupContainer(t *testing.T, ctx context.Context, container testcontainers.Container) {
	t.Helper()
	if container == nil {
		return
	}
	if err := container.Terminate(ctx); err != nil {
		t.Logf("Warning: failed to terminate container %s: %v", container.GetContainerID(), err)
	}
}
