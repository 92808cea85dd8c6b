package factories

import (
	"context"
	"errors"
	"fmt"
	"io"

	"drivesync/application"
	"drivesync/database"
	"drivesync/domain/contracts"
	"drivesync/domain/jobs"
	"drivesync/infrastructure/config"
	"drivesync/infrastructure/graph"
	"drivesync/infrastructure/repositories"
	"drivesync/infrastructure/sink"
	"drivesync/logging"
	"drivesync/platform/events"
	"drivesync/platform/executors"
)

// Remote groups the dependencies that talk to other systems.
type Remote struct {
	Items         contracts.ItemTreeFetcher
	Permissions   contracts.PermissionFetcher
	Drives        contracts.DriveLister
	Subscriptions contracts.SubscriptionClient
	Sink          contracts.SinkPublisher

	close func()
}

// Close releases the remote connections.
func (r *Remote) Close() {
	if r != nil && r.close != nil {
		r.close()
	}
}

// BuildRemote connects the Graph clients and the NATS sink.
func BuildRemote(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) (*Remote, error) {
	if err := cfg.ValidateRemote(); err != nil {
		return nil, err
	}

	tokens := graph.NewClientCredentialsProvider(cfg.Graph)
	client, err := graph.NewClient(cfg.Graph, tokens, nil)
	if err != nil {
		return nil, err
	}
	client.WithLogger(logger)

	subscriptions, err := graph.NewSubscriptionClient(cfg.Graph, tokens)
	if err != nil {
		return nil, err
	}

	publisher, err := sink.NewNATSPublisher(ctx, cfg.NATS)
	if err != nil {
		return nil, err
	}

	return &Remote{
		Items:         client,
		Permissions:   client,
		Drives:        client,
		Subscriptions: subscriptions,
		Sink:          publisher,
		close:         publisher.Close,
	}, nil
}

// Engine is the wired sync engine shared by the server and the operator CLI.
type Engine struct {
	Cursors contracts.CursorStore
	Tenants contracts.TenantRepository
	Jobs    contracts.JobRepository

	EventBus      *events.SyncEventBus
	Sync          *application.SyncService
	Coordinator   *application.PassCoordinator
	Subscriptions *application.SubscriptionService
	TenantService *application.TenantService
	Notifications *application.NotificationService
	Scheduler     *application.Scheduler

	remote *Remote
}

// NewEngine builds the repositories, services and job executors on top of db and remote.
func NewEngine(cfg *config.AppConfig, db *database.Database, remote *Remote) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cursors, err := repositories.BuildCursorStoreFromDSN(cfg.CursorStoreDSN, db)
	if err != nil {
		return nil, fmt.Errorf("cursor store: %w", err)
	}
	tenantRepo := repositories.NewSqliteTenantRepository(db)
	jobRepo := repositories.NewSqliteJobRepository(db)

	syncService := application.NewSyncService(cursors, remote.Items, remote.Permissions, remote.Sink, cfg.Sync)
	subscriptions := application.NewSubscriptionService(cursors, remote.Subscriptions, application.SubscriptionSettings{
		Policy:            cfg.Subscription.Policy,
		TeardownBatchSize: cfg.Subscription.TeardownBatchSize,
		CreateMaxAttempts: cfg.Subscription.CreateMaxAttempts,
		CreateBaseDelay:   cfg.Subscription.CreateBaseDelay,
	})

	eventBus := events.NewSyncEventBus()
	registry := application.NewJobExecutorRegistry()
	coordinator := application.NewPassCoordinator(jobRepo, tenantRepo, cursors, registry, eventBus, cfg.Sync.PassTimeout)

	tenantService := application.NewTenantService(tenantRepo, cursors, remote.Drives, subscriptions, coordinator)

	if err := errors.Join(
		registry.RegisterPassExecutor(executors.NewPassExecutor(syncService)),
		registry.RegisterExecutor(jobs.JobTypeSubscriptionRenewal, executors.NewRenewalExecutor(subscriptions)),
		registry.RegisterExecutor(jobs.JobTypeTenantTeardown, executors.NewTeardownExecutor(tenantService)),
		registry.Validate(),
	); err != nil {
		return nil, fmt.Errorf("job executors: %w", err)
	}

	events.NewSyncEventHandlers(subscriptions, coordinator, 0).RegisterHandlers(eventBus)

	return &Engine{
		Cursors:       cursors,
		Tenants:       tenantRepo,
		Jobs:          jobRepo,
		EventBus:      eventBus,
		Sync:          syncService,
		Coordinator:   coordinator,
		Subscriptions: subscriptions,
		TenantService: tenantService,
		Notifications: application.NewNotificationService(cursors, subscriptions, coordinator),
		Scheduler: application.NewScheduler(tenantRepo, cursors, jobRepo, subscriptions, coordinator, application.SchedulerSettings{
			Interval:     cfg.Scheduler.Interval,
			JobRetention: cfg.Scheduler.JobRetention,
		}),
		remote: remote,
	}, nil
}

// Shutdown stops running jobs, drains event handlers and closes the stores and remote
// connections.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.Coordinator.Shutdown(ctx)
	e.EventBus.Wait()
	if closer, ok := e.Cursors.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	e.remote.Close()
	return err
}
