//go:build integration

// Package containers starts throwaway brokers and object stores for
// integration tests.
package containers

import (
	"context"
	"fmt"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redpanda is a single-node Kafka-compatible broker.
type Redpanda struct {
	Version string

	bootstrapServers []string
	container        testcontainers.Container
}

func (b *Redpanda) Start(ctx context.Context) error {
	port, err := FreePort()
	if err != nil {
		return err
	}
	version := b.Version
	if version == "" {
		version = "latest"
	}
	req := testcontainers.ContainerRequest{
		Image:      fmt.Sprintf("docker.vectorized.io/vectorized/redpanda:%s", version),
		WaitingFor: wait.ForLog("Successfully started Redpanda!"),
		User:       "root:root",
		Cmd: []string{
			"redpanda",
			"start",
			"--smp", "1",
			"--reserve-memory", "0M",
			"--overprovisioned",
			"--node-id", "0",
			"--kafka-addr", fmt.Sprintf("OUTSIDE://0.0.0.0:%d", port),
		},
		// The advertised address must match the host port.
		ExposedPorts: []string{fmt.Sprintf("%d:%d/tcp", port, port)},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	b.container = container

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(fmt.Sprintf("%d", port)))
	if err != nil {
		return err
	}
	b.bootstrapServers = []string{fmt.Sprintf("%s:%d", host, mapped.Int())}
	return nil
}

func (b *Redpanda) BootstrapServers() []string {
	return b.bootstrapServers
}

func (b *Redpanda) Stop(ctx context.Context) error {
	return b.container.Terminate(ctx)
}

// Minio is an S3-compatible object store with default credentials.
type Minio struct {
	endpoint  string
	container testcontainers.Container
}

const (
	MinioAccessKey = "minioadmin"
	MinioSecretKey = "minioadmin"
)

func (m *Minio) Start(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		Cmd:          []string{"server", "/data"},
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     MinioAccessKey,
			"MINIO_ROOT_PASSWORD": MinioSecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	m.container = container

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	mapped, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return err
	}
	m.endpoint = fmt.Sprintf("%s:%d", host, mapped.Int())
	return nil
}

func (m *Minio) Endpoint() string {
	return m.endpoint
}

func (m *Minio) Stop(ctx context.Context) error {
	return m.container.Terminate(ctx)
}

// FreePort asks the kernel for a free open port that is ready to use.
func FreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
