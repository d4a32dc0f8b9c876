package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
)

func TestS3Store(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping S3 store test in short mode")
	}

	endpoint := os.Getenv("S3_MINIO_ENDPOINT")
	if len(endpoint) == 0 {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     testAccessKey,
				"MINIO_ROOT_PASSWORD": testSecretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		}

		minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			t.Skipf("Failed to start MinIO container: %v", err)
		}

		defer func() {
			if err = minioContainer.Terminate(ctx); err != nil {
				t.Logf("Warning: Failed to terminate MinIO container: %v", err)
			}
		}()

		mappedPort, err := minioContainer.MappedPort(ctx, "9000")
		if err != nil {
			t.Fatalf("Failed to get mapped port: %v", err)
		}
		endpoint = fmt.Sprintf("localhost:%s", mappedPort.Port())
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")

	config := S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		Bucket:          "test-citadel-store",
		KeyPrefix:       "snapshots",
		UseSSL:          false,
	}

	store, err := NewS3Store(config, "wallet.citadel")
	if err != nil {
		t.Fatalf("Failed to create S3 store: %v", err)
	}
	defer store.Close()

	if err = store.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	t.Run("LoadAbsent", func(t *testing.T) {
		if _, err := store.Load(); !errors.Is(err, ErrNotExist) {
			t.Fatalf("expected ErrNotExist, got %v", err)
		}
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		container := []byte("sealed container bytes")
		version, err := store.Save(container, "")
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if version == "" {
			t.Fatal("Save returned an empty version")
		}

		data, err := store.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if string(data.Data) != string(container) {
			t.Fatalf("Load returned %q, want %q", data.Data, container)
		}
		if data.Version != version {
			t.Fatalf("Load version %q, want %q", data.Version, version)
		}
	})

	t.Run("ExistsDelete", func(t *testing.T) {
		exists, err := store.Exists()
		if err != nil {
			t.Fatalf("Exists failed: %v", err)
		}
		if !exists {
			t.Fatal("container should exist after save")
		}

		if err = store.Delete(); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		exists, err = store.Exists()
		if err != nil {
			t.Fatalf("Exists failed: %v", err)
		}
		if exists {
			t.Fatal("container should be gone after delete")
		}
	})
}
