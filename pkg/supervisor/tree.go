// Package supervisor runs the long-lived services of the process under a
// suture supervisor tree.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff
	FailureThreshold float64 `koanf:"failure_threshold" yaml:"failure_threshold"`

	// FailureDecay is the rate at which failures decay in seconds
	FailureDecay float64 `koanf:"failure_decay" yaml:"failure_decay"`

	// FailureBackoff is the duration to wait when the threshold is exceeded
	FailureBackoff time.Duration `koanf:"failure_backoff" yaml:"failure_backoff"`

	// ShutdownTimeout is the maximum time to wait for a service to stop
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultTreeConfig returns suture's own defaults
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers so that a failing trigger consumer cannot take the
// read-out API down with it:
//   - pipeline: job launcher and the Kafka trigger consumer
//   - api: HTTP server
type Tree struct {
	root     *suture.Supervisor
	pipeline *suture.Supervisor
	api      *suture.Supervisor
	config   TreeConfig
}

// NewTree creates the supervisor tree. Zero config values take the defaults.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	// MustHook has a pointer receiver
	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("recsync", rootSpec)
	pipeline := suture.New("pipeline-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(pipeline)
	root.Add(api)

	return &Tree{root: root, pipeline: pipeline, api: api, config: config}
}

// AddPipelineService adds a service to the pipeline layer
func (t *Tree) AddPipelineService(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// AddAPIService adds a service to the API layer
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel receives its exit error
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that did not stop within the shutdown timeout
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Named gives a service a name in supervisor logs
type Named struct {
	Name    string
	Service suture.Service
}

// Serve runs the wrapped service
func (n Named) Serve(ctx context.Context) error {
	return n.Service.Serve(ctx)
}

func (n Named) String() string {
	return n.Name
}
