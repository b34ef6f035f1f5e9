package clientpool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"uploadengine/credsource"
)

// startMinIOContainer brings up a real MinIO server for integration tests,
// mirroring the pattern this codebase already uses for its other MinIO
// integration coverage.
func startMinIOContainer(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ACCESS_KEY": "testuser",
			"MINIO_SECRET_KEY": "testpass123",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		return nil, "", err
	}

	return container, fmt.Sprintf("%s:%d", host, port.Int()), nil
}

func TestPool_GetClient_AgainstRealMinIO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers integration test in -short mode")
	}

	ctx := context.Background()
	container, endpoint, err := startMinIOContainer(ctx)
	require.NoError(t, err, "failed to start MinIO container")
	defer container.Terminate(ctx)

	source := credsource.StaticSource{
		AccessKey: "testuser",
		SecretKey: "testpass123",
		ValidFor:  time.Hour,
	}

	pool := New(testConfig(), source, nil)
	pool.Endpoint = endpoint

	client, err := pool.GetClient(ctx, "tenant-a")
	require.NoError(t, err)

	time.Sleep(2 * time.Second) // let MinIO finish starting up

	_, err = client.ListBuckets(ctx)
	assert.NoError(t, err)
}
