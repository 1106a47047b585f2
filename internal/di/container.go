package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/handlers"
	"github.com/orchardlane/storefront/internal/payments"
	"github.com/orchardlane/storefront/internal/platform/auth"
	"github.com/orchardlane/storefront/internal/platform/config"
	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/platform/idempotency"
	"github.com/orchardlane/storefront/internal/platform/jobs"
	"github.com/orchardlane/storefront/internal/platform/observability"
	"github.com/orchardlane/storefront/internal/repositories/device"
	firestoreRepo "github.com/orchardlane/storefront/internal/repositories/firestore"
	"github.com/orchardlane/storefront/internal/services"
)

// Services bundles the service-layer contracts the handlers rely on.
type Services struct {
	Carts     services.CartService
	Catalog   services.CatalogService
	Orders    services.OrderService
	Addresses services.AddressService
}

// Container wires repositories, services, and transport for runtime use.
type Container struct {
	Config   config.Config
	Services Services
	Router   chi.Router

	firestoreProvider *pfirestore.Provider
	pubsubClient      *pubsub.Client
	reconTopic        *pubsub.Topic
}

// BuildOptions carries deployment metadata the container cannot derive from
// configuration alone.
type BuildOptions struct {
	Build handlers.BuildInfo
}

// NewContainer assembles the full dependency graph: Firestore-backed
// repositories, the guest cart store, payment providers, the reconciliation
// publisher, services, and the HTTP router.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts BuildOptions) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg}

	c.firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := c.firestoreProvider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("build firestore client: %w", err)
	}

	cartRepo := firestoreRepo.NewCartRepository(c.firestoreProvider)
	catalogRepo := firestoreRepo.NewCatalogRepository(c.firestoreProvider)
	orderRepo := firestoreRepo.NewOrderRepository(c.firestoreProvider)
	addressRepo := firestoreRepo.NewAddressRepository(c.firestoreProvider)
	counterRepo := firestoreRepo.NewCounterRepository(c.firestoreProvider)

	guestCarts, err := device.NewCartStore(cfg.GuestCart.Dir)
	if err != nil {
		return nil, fmt.Errorf("build guest cart store: %w", err)
	}

	shippingRule := domain.ShippingRule{
		FreeThreshold: cfg.Shipping.FreeThreshold,
		FlatFee:       cfg.Shipping.FlatFee,
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		ServerCarts:  cartRepo,
		GuestCarts:   guestCarts,
		Catalog:      catalogRepo,
		Clock:        time.Now,
		Currency:     cfg.Shipping.Currency,
		ShippingRule: shippingRule,
		Logger:       observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		return nil, fmt.Errorf("build cart service: %w", err)
	}
	c.Services.Carts = cartService

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: catalogRepo,
		Clock:   time.Now,
		Logger:  observability.EventLogger(logger.Named("catalog")),
	})
	if err != nil {
		return nil, fmt.Errorf("build catalog service: %w", err)
	}
	c.Services.Catalog = catalogService

	addressService, err := services.NewAddressService(services.AddressServiceDeps{
		Addresses: addressRepo,
		Clock:     time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build address service: %w", err)
	}
	c.Services.Addresses = addressService

	paymentManager, err := buildPaymentManager(cfg.Payments, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := c.buildReconciliationPublisher(ctx, cfg.Jobs)
	if err != nil {
		return nil, err
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          orderRepo,
		Addresses:       addressRepo,
		Catalog:         catalogRepo,
		Counters:        counterRepo,
		Carts:           cartService,
		Gateway:         paymentManager,
		Reconciliation:  publisher,
		Retry:           services.DefaultRetryPolicy,
		Clock:           time.Now,
		Logger:          observability.EventLogger(logger.Named("order")),
		Currency:        cfg.Shipping.Currency,
		ShippingRule:    shippingRule,
		NumberCounterID: cfg.Orders.NumberCounterID,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orderService

	var authenticator *auth.Authenticator
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		authenticator = auth.NewAuthenticator(verifier)
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(opts.Build),
		handlers.WithReadinessProbe("firestore", firestoreProbe(firestoreClient)),
	)

	cartHandlers := handlers.NewCartHandlers(authenticator, cartService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	productHandlers := handlers.NewProductHandlers(catalogService)
	meHandlers := handlers.NewMeHandlers(authenticator, addressService)

	c.Router = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(productHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithMeRoutes(meHandlers.Routes),
	)

	return c, nil
}

// Close releases the backing clients. Safe to call once during shutdown.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.reconTopic != nil {
		c.reconTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildPaymentManager(cfg config.PaymentsConfig, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)

	if strings.TrimSpace(cfg.RazorpayKeyID) != "" {
		razorpayProvider, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
			KeyID:  cfg.RazorpayKeyID,
			Secret: cfg.RazorpaySecret,
			Logger: payments.RazorpayLogger(observability.EventLogger(logger.Named("razorpay"))),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay provider: %w", err)
		}
		providers["razorpay"] = razorpayProvider
	}

	if strings.TrimSpace(cfg.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.StripeAPIKey,
			Logger: payments.StripeLogger(observability.EventLogger(logger.Named("stripe"))),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripeProvider
	}

	if len(providers) == 0 {
		return nil, errors.New("di: no payment provider configured")
	}

	var opts []payments.ManagerOption
	if strings.TrimSpace(cfg.DefaultProvider) != "" {
		opts = append(opts, payments.WithDefaultProvider(cfg.DefaultProvider))
	}
	if len(cfg.CurrencyRoutes) > 0 {
		opts = append(opts, payments.WithCurrencyRoutes(cfg.CurrencyRoutes))
	}

	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildReconciliationPublisher(ctx context.Context, cfg config.JobsConfig) (services.ReconciliationPublisher, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	c.pubsubClient = client

	topic := client.Topic(cfg.ReconciliationTopic)
	// Reconciliation messages for one gateway order must arrive in order.
	topic.EnableMessageOrdering = true
	c.reconTopic = topic

	publisher, err := jobs.NewPubSubReconciliationPublisher(topic)
	if err != nil {
		return nil, fmt.Errorf("build reconciliation publisher: %w", err)
	}
	return publisher, nil
}

func firestoreProbe(client *firestore.Client) handlers.ReadinessProbe {
	return func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		iter := client.Collections(probeCtx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
