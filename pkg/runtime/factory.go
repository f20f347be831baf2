package runtime

import (
	"context"
	"fmt"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// DockerConfig is the typed form of a docker runner's opaque config map
type DockerConfig struct {
	Host       string
	APIVersion string
	TLSVerify  bool
	CertPath   string
	// DataDir is the host directory backing dataset downloads
	DataDir string
}

// ParseDockerConfig validates a runner's config map for the docker runtime
func ParseDockerConfig(config map[string]interface{}) (DockerConfig, error) {
	cfg := DockerConfig{Host: "unix:///var/run/docker.sock"}
	if config == nil {
		return cfg, nil
	}
	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	}
	if v, ok := config["api_version"].(string); ok {
		cfg.APIVersion = v
	}
	if v, ok := config["tls_verify"].(bool); ok {
		cfg.TLSVerify = v
	}
	if v, ok := config["cert_path"].(string); ok {
		cfg.CertPath = v
	}
	if cfg.TLSVerify && cfg.CertPath == "" {
		return DockerConfig{}, fmt.Errorf("tls_verify requires cert_path")
	}
	if v, ok := config["data_dir"].(string); ok {
		cfg.DataDir = v
	}
	return cfg, nil
}

// Factory constructs Runtime clients from runner records
type Factory struct{}

// NewFactory creates a runtime factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds a Runtime for the given runner type and opaque config
func (f *Factory) Create(ctx context.Context, runnerType types.RunnerType, config map[string]interface{}) (Runtime, error) {
	switch runnerType {
	case types.RunnerTypeDocker:
		cfg, err := ParseDockerConfig(config)
		if err != nil {
			return nil, fmt.Errorf("invalid docker config: %w", err)
		}
		return NewDockerRuntime(ctx, cfg)
	case types.RunnerTypeKubernetes:
		return nil, fmt.Errorf("kubernetes runtime not implemented")
	default:
		return nil, fmt.Errorf("unknown runner type %q", runnerType)
	}
}
