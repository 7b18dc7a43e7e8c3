package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/mdresch/cognisync-pipeline/broker"
	"github.com/mdresch/cognisync-pipeline/consumer"
	"github.com/mdresch/cognisync-pipeline/core"
	"github.com/mdresch/cognisync-pipeline/relay"
	"github.com/mdresch/cognisync-pipeline/transform"
	"github.com/mdresch/cognisync-pipeline/webhooks"
)

// Re-exports so downstream callers can wire the pipeline without importing
// the internal packages directly.

type Config = core.Config

type SyncConfiguration = core.SyncConfiguration

type SyncEvent = core.SyncEvent

type DomainEvent = core.DomainEvent

type EventStore = core.EventStore
type ConfigStore = core.ConfigStore
type MappingStore = core.MappingStore
type GraphStore = core.GraphStore
type MetricsRecorder = core.MetricsRecorder

type Logger = core.Logger

const (
	EventStatusPending    = core.EventStatusPending
	EventStatusProcessing = core.EventStatusProcessing
	EventStatusCompleted  = core.EventStatusCompleted
	EventStatusRetrying   = core.EventStatusRetrying
	EventStatusDeadLetter = core.EventStatusDeadLetter

	MessageTypeCreateEntity = core.MessageTypeCreateEntity
	MessageTypeLinkEntities = core.MessageTypeLinkEntities
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func ResolveConfig(ctx context.Context, loader core.RawConfigLoader, runtime map[string]any) (Config, error) {
	return core.ResolveConfig(ctx, loader, runtime)
}

// Dependencies carries the stores and broker the pipeline composes over.
// Events, Configs, Mappings, Graph, and Topic are required; Logger and
// Metrics default to no-ops when unset.
type Dependencies struct {
	Events   core.EventStore
	Configs  core.ConfigStore
	Mappings core.MappingStore
	Graph    core.GraphStore

	// Topic receives published domain events; Deliveries feeds the
	// consumer. With the in-memory broker both come from the same
	// *broker.Memory; with an external queue both come from the queue
	// adapters.
	Topic      broker.Publisher
	Deliveries broker.Subscription

	Logger  core.Logger
	Metrics core.MetricsRecorder

	// TenantID and Source scope the consumer's idempotency ledger.
	TenantID string
	Source   string
}

// Pipeline wires the full event path: webhook intake into the durable
// store, the lease-based relay that transforms and publishes, and the
// consumer that applies domain events to the graph.
type Pipeline struct {
	Intake   *webhooks.Intake
	Poller   *relay.Poller
	Consumer *consumer.Consumer

	handler http.Handler
	logger  core.Logger

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	runErr    error
}

// New validates cfg, builds every stage, and returns the assembled
// pipeline. Nothing runs until Start.
func New(cfg Config, deps Dependencies) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Topic == nil {
		return nil, fmt.Errorf("pipeline: broker topic is required")
	}
	if deps.Deliveries == nil {
		return nil, fmt.Errorf("pipeline: broker subscription is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}

	intake, err := webhooks.NewIntake(deps.Configs, deps.Events)
	if err != nil {
		return nil, err
	}
	intake.Logger = logger
	intake.Metrics = metrics

	publisher, err := transform.NewBrokerPublisher(deps.Topic)
	if err != nil {
		return nil, err
	}
	publisher.Timeout = cfg.PublishTimeout

	outcomes, err := relay.NewOutcomeRecorder(deps.Events, deps.Configs)
	if err != nil {
		return nil, err
	}
	outcomes.DefaultRetryLimit = cfg.DefaultRetryLimit

	poller, err := relay.NewPoller(deps.Events, outcomes, publisher, cfg)
	if err != nil {
		return nil, err
	}
	poller.Logger = logger
	poller.Metrics = metrics

	applier, err := consumer.New(deps.Deliveries, deps.Mappings, deps.Graph, deps.TenantID, deps.Source, cfg)
	if err != nil {
		return nil, err
	}
	applier.Logger = logger
	applier.Metrics = metrics

	return &Pipeline{
		Intake:   intake,
		Poller:   poller,
		Consumer: applier,
		handler:  webhooks.NewHTTPHandler(intake),
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// HTTPHandler serves POST /webhooks/{configID}. Callers mount it on their
// own server; the pipeline does not listen on its own.
func (p *Pipeline) HTTPHandler() http.Handler {
	if p == nil {
		return nil
	}
	return p.handler
}

// Start launches the poller and the consumer workers and returns. Use Stop
// or cancel ctx to shut the pipeline down; Wait blocks until both loops
// have exited.
func (p *Pipeline) Start(ctx context.Context) error {
	if p == nil || p.Poller == nil || p.Consumer == nil {
		return fmt.Errorf("pipeline: pipeline is not configured")
	}
	p.startOnce.Do(func() {
		p.started.Store(true)

		var wg sync.WaitGroup
		var mu sync.Mutex
		record := func(err error) {
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			mu.Lock()
			if p.runErr == nil {
				p.runErr = err
			}
			mu.Unlock()
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			record(p.Poller.Start(ctx))
		}()
		go func() {
			defer wg.Done()
			record(p.Consumer.Start(ctx))
		}()
		go func() {
			wg.Wait()
			close(p.done)
		}()
		p.logger.Info("pipeline started")
	})
	return nil
}

// Stop halts the poller, closes the consumer subscription, and waits for
// both loops to drain. Safe to call more than once.
func (p *Pipeline) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		if !p.started.Load() {
			return
		}
		p.Poller.Stop()
		p.Consumer.Stop()
		<-p.done
		p.logger.Info("pipeline stopped")
	})
}

// Wait blocks until the poller and consumer have exited and reports the
// first failure either loop returned, if any. Before Start there is nothing
// to wait on.
func (p *Pipeline) Wait() error {
	if p == nil || !p.started.Load() {
		return nil
	}
	<-p.done
	return p.runErr
}
