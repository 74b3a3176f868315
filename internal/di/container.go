package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/finitefield/order-desk/internal/platform/config"
	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/platform/idempotency"
	"github.com/finitefield/order-desk/internal/platform/jobs"
	"github.com/finitefield/order-desk/internal/platform/requestctx"
	"github.com/finitefield/order-desk/internal/repositories"
	fsrepo "github.com/finitefield/order-desk/internal/repositories/firestore"
	"github.com/finitefield/order-desk/internal/repositories/memory"
	"github.com/finitefield/order-desk/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders  services.OrderService
	Catalog services.CatalogService
	System  services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store

	pubsubClient *pubsub.Client
	publisher    *jobs.PubSubOrderEventPublisher
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	registry    repositories.Registry
	idempotency idempotency.Store
	events      services.OrderEventPublisher
	build       services.BuildInfo
	logger      *zap.Logger
}

// WithRegistry supplies a prebuilt registry instead of dialing the configured store.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithIdempotencyStore overrides the submission key store.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) { o.idempotency = store }
}

// WithEventPublisher overrides the order event publisher.
func WithEventPublisher(events services.OrderEventPublisher) Option {
	return func(o *options) { o.events = events }
}

// WithBuildInfo sets the version metadata reported on readiness probes.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithLogger sets the logger used for wiring diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewContainer constructs the runtime dependencies for the configured store driver.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg}
	if err := c.buildStore(cfg, &o); err != nil {
		return nil, err
	}
	if err := c.buildEvents(ctx, cfg, &o); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	svc, err := c.buildServices(cfg, &o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

func (c *Container) buildStore(cfg config.Config, o *options) error {
	if o.registry != nil {
		c.Repositories = o.registry
		c.Idempotency = o.idempotency
		if c.Idempotency == nil {
			c.Idempotency = idempotency.NewMemoryStore()
		}
		return nil
	}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		c.Repositories = memory.NewRegistry(memory.NewStore(
			memory.WithMaxAttempts(cfg.Orders.TxMaxAttempts),
			memory.WithAttemptObserver(retryObserver),
		))
		c.Idempotency = idempotency.NewMemoryStore()
	case config.StoreDriverFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithCredentials(cfg.Firebase))
		reg, err := fsrepo.NewRegistry(provider, fsrepo.OrderStoreOptions{
			CounterCollection: cfg.Orders.CounterCollection,
			CounterDocument:   cfg.Orders.CounterDocument,
			MaxAttempts:       cfg.Orders.TxMaxAttempts,
			Timeout:           cfg.Orders.TxTimeout,
			OnAttempt:         retryObserver,
		})
		if err != nil {
			return fmt.Errorf("build firestore registry: %w", err)
		}
		c.Repositories = reg
		c.Idempotency = idempotency.NewFirestoreStore(provider, idempotency.WithCollection(cfg.Idempotency.Collection))
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if o.idempotency != nil {
		c.Idempotency = o.idempotency
	}
	return nil
}

func (c *Container) buildEvents(ctx context.Context, cfg config.Config, o *options) error {
	if o.events != nil || !cfg.Notifications.Enabled {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
	if err != nil {
		return fmt.Errorf("build pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Notifications.PubSubTopic))
	if err != nil {
		_ = client.Close()
		return err
	}
	c.pubsubClient = client
	c.publisher = publisher
	o.events = publisher
	o.logger.Info("order events enabled", zap.String("topic", cfg.Notifications.PubSubTopic))
	return nil
}

func (c *Container) buildServices(cfg config.Config, o *options) (Services, error) {
	reg := c.Repositories
	if reg == nil {
		return Services{}, errors.New("repositories registry is required")
	}

	var svc Services
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Store:        reg.OrderStore(),
		Orders:       reg.Orders(),
		Events:       o.events,
		Clock:        time.Now,
		MaxLineItems: cfg.Orders.MaxLineItems,
		EventTimeout: cfg.Notifications.PublishTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:  reg.Catalog(),
		Counters: reg.Counters(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	checks := []repositories.DependencyCheck{{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := reg.Counters().Current(ctx)
			return err
		},
	}}
	if c.publisher != nil {
		topic := c.pubsubClient.Topic(cfg.Notifications.PubSubTopic)
		checks = append(checks, repositories.DependencyCheck{
			Name: "notifications",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", cfg.Notifications.PubSubTopic)
				}
				return nil
			},
		})
	}
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Server.Environment
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// Close flushes pending events and releases store clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.publisher != nil {
		c.publisher.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

// retryObserver logs transaction attempts after the first, which only happen on contention.
func retryObserver(ctx context.Context, attempt int) {
	if attempt <= 1 {
		return
	}
	requestctx.Logger(ctx).Info("order transaction retry", zap.Int("attempt", attempt))
}
