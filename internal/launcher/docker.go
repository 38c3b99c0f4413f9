package launcher

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/client"
)

var docker struct {
	once sync.Once
	cli  *client.Client
	err  error
}

// dockerClient returns the process-wide Docker client, created on first use.
// The client is safe for concurrent use and holds pooled connections to the
// daemon, so it is never closed.
func dockerClient() (*client.Client, error) {
	docker.once.Do(func() {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if os.Getenv("DOCKER_HOST") == "" {
			// No explicit daemon address. Probe the places a socket shows
			// up on stock, Desktop and rootless installations, and hand the
			// winner to the SDK through an option instead of mutating the
			// environment.
			if sock := discoverDockerSocket(); sock != "" {
				opts = append(opts, client.WithHost("unix://"+sock))
			}
		}
		docker.cli, docker.err = client.NewClientWithOpts(opts...)
	})
	return docker.cli, docker.err
}

func discoverDockerSocket() string {
	candidates := []string{"/var/run/docker.sock"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
