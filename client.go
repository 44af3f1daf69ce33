package tablestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/coldriver/tablestore/internal/metrics"
	"github.com/coldriver/tablestore/internal/pool"
	"github.com/coldriver/tablestore/internal/rpc"
)

// instanceKey is a "warmed instance" key: (instance, table, profile),
// deduplicated in the Client's active-instance set.
type instanceKey struct {
	instance string
	table    string
	profile  string
}

// Client owns the channel pool, the lifecycle tasks, and the registration
// bookkeeping every Table handle shares. Construct with Open.
type Client struct {
	projectID    string
	endpoint     string
	userAgent    string
	emulator     bool
	credsOptions []grpc.DialOption

	pool        *pool.Pool
	lifecycle   *pool.Manager
	dynamicSize *pool.DynamicSizer
	stubFactory rpc.StubFactory

	logger   *slog.Logger
	handlers []metrics.Handler

	mu        sync.Mutex
	active    map[instanceKey]map[uuid.UUID]struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	closeWG   sync.WaitGroup
}

// ClientOption configures a Client at Open time.
type ClientOption func(*clientConfig)

type clientConfig struct {
	endpoint     string
	emulator     bool
	userAgent    string
	poolSize     int
	dialOptions  []grpc.DialOption
	lifecycle    pool.LifecycleConfig
	dynamicSize  *pool.DynamicSizerConfig
	logger       *slog.Logger
	handlers     []metrics.Handler
	stubFactory  rpc.StubFactory
}

// WithEndpoint overrides the default service endpoint.
func WithEndpoint(addr string) ClientOption { return func(c *clientConfig) { c.endpoint = addr } }

// WithEmulator points the client at a local emulator over an insecure
// connection, the way integration tests exercise the service without a
// live cluster.
func WithEmulator(addr string) ClientOption {
	return func(c *clientConfig) {
		c.endpoint = addr
		c.emulator = true
	}
}

// WithUserAgent sets the client's user-agent string.
func WithUserAgent(ua string) ClientOption { return func(c *clientConfig) { c.userAgent = ua } }

// WithPoolSize sets the channel pool's fixed size (default 4).
func WithPoolSize(n int) ClientOption { return func(c *clientConfig) { c.poolSize = n } }

// WithDialOptions appends raw grpc.DialOptions, e.g. custom transport
// credentials.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *clientConfig) { c.dialOptions = append(c.dialOptions, opts...) }
}

// WithLifecycleConfig overrides the channel refresh schedule.
func WithLifecycleConfig(cfg pool.LifecycleConfig) ClientOption {
	return func(c *clientConfig) { c.lifecycle = cfg }
}

// WithDynamicPoolSizing enables the optional dynamic-sizing policy over the
// fixed pool.
func WithDynamicPoolSizing(cfg pool.DynamicSizerConfig) ClientOption {
	return func(c *clientConfig) { c.dynamicSize = &cfg }
}

// WithLogger overrides the default slog.Logger used for invalid-transition
// warnings and lifecycle diagnostics.
func WithLogger(l *slog.Logger) ClientOption { return func(c *clientConfig) { c.logger = l } }

// WithMetricsHandlers registers metrics sinks; NullHandler is
// used if none are given.
func WithMetricsHandlers(h ...metrics.Handler) ClientOption {
	return func(c *clientConfig) { c.handlers = append(c.handlers, h...) }
}

// withStubFactory is unexported: tests substitute a fake Stub, production
// callers always get the real grpc-backed one.
func withStubFactory(f rpc.StubFactory) ClientOption {
	return func(c *clientConfig) { c.stubFactory = f }
}

const defaultEndpoint = "tablestore.googleapis.com:443"

// defaultOperationTimeout is the whole-operation budget a Table handle
// carries unless a caller overrides it with WithOperationTimeout.
// defaultAttemptTimeout of 0 means each attempt is bounded only by the
// remaining operation budget, not by a separate per-attempt cap.
const defaultOperationTimeout = 600 * time.Second
const defaultAttemptTimeout = 0

// Open dials the channel pool and starts the lifecycle tasks. projectID
// identifies the owning project; credentials are taken only from opts:
// WithEmulator dials without transport security, and otherwise transport
// credentials come from WithDialOptions (with none given, the dial fails).
// There is no ambient credentials lookup — this module stops at the
// DialOption boundary and never owns credential discovery itself.
func Open(ctx context.Context, projectID string, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{endpoint: defaultEndpoint, poolSize: 4}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.stubFactory == nil {
		cfg.stubFactory = rpc.NewGRPCStubFactory()
	}
	if len(cfg.handlers) == 0 {
		cfg.handlers = []metrics.Handler{metrics.NullHandler{}}
	}

	dialOpts := cfg.dialOptions
	if cfg.emulator {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	dial := func() (pool.Channel, error) {
		conn, err := grpc.NewClient(cfg.endpoint, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("tablestore: dial %s: %w", cfg.endpoint, err)
		}
		return conn, nil
	}

	p, err := pool.New(cfg.poolSize, func(ch pool.Channel) any {
		conn := ch.(*grpc.ClientConn)
		return cfg.stubFactory(conn)
	}, dial)
	if err != nil {
		return nil, err
	}

	lifecycleCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		projectID: projectID, endpoint: cfg.endpoint, userAgent: cfg.userAgent, emulator: cfg.emulator,
		credsOptions: dialOpts, pool: p, stubFactory: cfg.stubFactory,
		logger: cfg.logger, handlers: cfg.handlers,
		active: make(map[instanceKey]map[uuid.UUID]struct{}),
		cancel: cancel,
	}

	c.lifecycle = pool.NewManager(p, dial, cfg.lifecycle)
	c.closeWG.Add(1)
	go func() {
		defer c.closeWG.Done()
		c.lifecycle.Run(lifecycleCtx, c.preWarmAll)
	}()

	if cfg.dynamicSize != nil {
		c.dynamicSize = pool.NewDynamicSizer(p, dial, *cfg.dynamicSize)
		c.closeWG.Add(1)
		go func() {
			defer c.closeWG.Done()
			c.dynamicSize.Run(lifecycleCtx)
		}()
	}

	return c, nil
}

// preWarmAll pings every registered instance through stub — called against
// a freshly dialed replacement channel before it takes traffic.
func (c *Client) preWarmAll(stub any) {
	s, ok := stub.(rpc.Stub)
	if !ok {
		return
	}
	c.mu.Lock()
	instances := make([]string, 0, len(c.active))
	for k := range c.active {
		instances = append(instances, k.instance)
	}
	c.mu.Unlock()

	ctx := context.Background()
	for _, inst := range instances {
		_ = s.PingAndWarm(ctx, &rpc.PingAndWarmRequest{InstanceName: inst}, 5*time.Second)
	}
}

// stub returns a stub bound to the next pool channel in round-robin order.
// The returned value tracks the RPC's lifetime against the pool's
// in-flight count for that channel.
func (c *Client) stub() rpc.Stub {
	s, lease := c.pool.Next()
	return &trackingStub{inner: s.(rpc.Stub), p: c.pool, lease: lease}
}

// Table returns a lightweight handle bound to (instance, table, profile),
// registering the key in the active set and the owner map. On first
// registration of a given instance, every current channel is pre-warmed
// for it.
func (c *Client) Table(instance, table, profile string, opts ...TableOption) *Table {
	key := instanceKey{instance: instance, table: table, profile: profile}
	owner := uuid.New()

	c.mu.Lock()
	_, firstForInstance := c.firstRegistrationForInstance(instance)
	if c.active[key] == nil {
		c.active[key] = make(map[uuid.UUID]struct{})
	}
	c.active[key][owner] = struct{}{}
	c.mu.Unlock()

	if firstForInstance {
		go c.preWarmInstance(instance)
	}

	t := &Table{
		client: c, owner: owner, key: key,
		name:         fmt.Sprintf("projects/%s/instances/%s/tables/%s", c.projectID, instance, table),
		appProfileID: profile,

		operationTimeout: defaultOperationTimeout,
		attemptTimeout:   defaultAttemptTimeout,

		readRetryableSet:   DefaultReadRetryableSet(),
		mutateRetryableSet: DefaultMutateRetryableSet(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// firstRegistrationForInstance reports whether instance has no existing
// active-set entries before this registration (caller holds c.mu).
func (c *Client) firstRegistrationForInstance(instance string) (instanceKey, bool) {
	for k := range c.active {
		if k.instance == instance {
			return k, false
		}
	}
	return instanceKey{}, true
}

// preWarmInstance pings instance through every channel currently in the
// pool, not just one — a freshly registered instance otherwise stays cold
// on every channel Next() doesn't happen to pick first.
func (c *Client) preWarmInstance(instance string) {
	ctx := context.Background()
	for _, raw := range c.pool.Stubs() {
		s, ok := raw.(rpc.Stub)
		if !ok {
			continue
		}
		_ = s.PingAndWarm(ctx, &rpc.PingAndWarmRequest{InstanceName: instance}, 5*time.Second)
	}
}

// deregister removes handle's owner id from the owner map; when a key's
// owner set empties, the key is dropped from the active set.
func (c *Client) deregister(t *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owners := c.active[t.key]
	if owners == nil {
		return
	}
	delete(owners, t.owner)
	if len(owners) == 0 {
		delete(c.active, t.key)
	}
}

// Close cancels lifecycle tasks (bounded by ctx), closes the pool, and
// tears down the client. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.closeWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
		err = c.pool.Close()
	})
	return err
}
