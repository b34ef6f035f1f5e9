package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"uploadengine/clientpool"
	"uploadengine/codec"
	"uploadengine/confirmsink"
	"uploadengine/config"
	"uploadengine/credsource"
	"uploadengine/tracker"
)

func startMinIO(t *testing.T) (string, string, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers integration test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ACCESS_KEY": "workertest",
			"MINIO_SECRET_KEY": "workertest123",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	endpoint := fmt.Sprintf("%s:%d", host, port.Int())
	return endpoint, "workertest", "workertest123"
}

func TestProcess_SingleFileBatchHappyPath(t *testing.T) {
	endpoint, accessKey, secretKey := startMinIO(t)

	var confirmed batchCaptureServer
	server := httptest.NewServer(http.HandlerFunc(confirmed.handle))
	defer server.Close()

	cfg := &config.Config{
		Region: "us-east-1", MaxPoolConnections: 2, ConnectTimeout: 5 * time.Second,
		RefreshMargin: time.Hour, MaxCacheSize: 10, MaxUploadRetries: 3, RetryBackoffUnit: 50 * time.Millisecond,
	}
	source := credsource.StaticSource{AccessKey: accessKey, SecretKey: secretKey, ValidFor: time.Hour}
	pool := clientpool.New(cfg, source, nil)
	pool.Endpoint = endpoint

	tr := tracker.New(nil)
	sink := confirmsink.NewHTTPSink(server.URL, nil)
	w := New(tr, pool, sink, cfg, nil, func() bool { return true })

	ctx := context.Background()
	client, err := pool.GetClient(ctx, "tenant-a")
	require.NoError(t, err)
	require.NoError(t, client.MakeBucket(ctx, "clinical-bucket", minio.MakeBucketOptions{}))

	path := writeTempFile(t, "scan-bytes")
	tr.Add("D1_1", path, "patient/P/source_data/D1/scan.dcm/scan.dcm", "P", tracker.BatchCreate)

	w.Process(ctx, Task{
		UploadID: "D1_1", Region: "us-east-1", Bucket: "clinical-bucket",
		Key: "patient/P/source_data/D1/scan.dcm/scan.dcm", LocalPath: path, TenantID: "tenant-a",
	})

	record := tr.Get("D1_1")
	assert.Equal(t, codec.ConfirmSuccess, record.Status())
	assert.Equal(t, 1, confirmed.count())
}

type batchCaptureServer struct {
	n int
}

func (s *batchCaptureServer) handle(w http.ResponseWriter, r *http.Request) {
	s.n++
	w.WriteHeader(http.StatusOK)
}

func (s *batchCaptureServer) count() int { return s.n }
