package match

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0x5487/venue-core/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Scheduler owns the processors and routes every command to the processor
// that owns its instrument. The first MaxProcessors instruments get a
// processor each; later instruments are folded onto the existing ones.
type Scheduler struct {
	isShutdown atomic.Bool
	paused     atomic.Bool

	maxProcessors int
	queueCapacity int64
	router        Router
	registry      *MatcherRegistry
	handlers      *HandlerChain
	feed          PriceFeed
	rollback      RollbackPolicy
	logger        *zap.Logger
	diagnostics   DiagnosticsFunc
	serializer    protocol.Serializer
	metrics       prometheus.Registerer
	clock         func() time.Time

	mu         sync.Mutex
	processors []*Processor
	owners     map[Instrument]*Processor
	folded     int

	index sync.Map // order id -> *OrderBook
}

type SchedulerOption func(*Scheduler)

// WithMaxProcessors caps the number of processors. Zero means one.
func WithMaxProcessors(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.maxProcessors = n
	}
}

func WithQueueCapacity(capacity int64) SchedulerOption {
	return func(s *Scheduler) {
		s.queueCapacity = capacity
	}
}

func WithRouter(router Router) SchedulerOption {
	return func(s *Scheduler) {
		s.router = router
	}
}

func WithMatchers(registry *MatcherRegistry) SchedulerOption {
	return func(s *Scheduler) {
		s.registry = registry
	}
}

// WithHandlers sets the handler chain shared by every processor. Handlers
// must therefore be safe for concurrent use.
func WithHandlers(chain *HandlerChain) SchedulerOption {
	return func(s *Scheduler) {
		s.handlers = chain
	}
}

func WithPriceFeed(feed PriceFeed) SchedulerOption {
	return func(s *Scheduler) {
		s.feed = feed
	}
}

func WithRollbackPolicy(policy RollbackPolicy) SchedulerOption {
	return func(s *Scheduler) {
		s.rollback = policy
	}
}

func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

func WithDiagnostics(fn DiagnosticsFunc) SchedulerOption {
	return func(s *Scheduler) {
		s.diagnostics = fn
	}
}

func WithSerializer(serializer protocol.Serializer) SchedulerOption {
	return func(s *Scheduler) {
		s.serializer = serializer
	}
}

// WithMetricsRegisterer exposes per-processor queue depth gauges.
func WithMetricsRegisterer(reg prometheus.Registerer) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = reg
	}
}

func WithSchedulerClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// NewScheduler creates a scheduler. Processors are created lazily as
// instruments appear.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		maxProcessors: 1,
		queueCapacity: DefaultQueueCapacity,
		rollback:      RollbackCancel,
		logger:        logger,
		serializer:    &protocol.DefaultJSONSerializer{},
		clock:         time.Now,
		owners:        make(map[Instrument]*Processor),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxProcessors <= 0 {
		s.maxProcessors = 1
	}
	if s.queueCapacity <= 0 || s.queueCapacity&(s.queueCapacity-1) != 0 {
		return nil, ErrQueueCapacity
	}
	if s.rollback != RollbackCancel && s.rollback != RollbackRestore {
		return nil, fmt.Errorf("%w: rollback %q", ErrInvalidParam, s.rollback)
	}
	if s.router == nil {
		s.router = NewInstrumentRouter()
	}
	if s.registry == nil {
		s.registry = DefaultMatcherRegistry()
	}
	if s.handlers == nil {
		s.handlers = NewHandlerChain()
	}
	if !hasCommitHandler(s.handlers) {
		s.handlers.Add(NewCommitHandler())
	}
	if s.feed == nil {
		s.feed = NewMemoryPriceFeed()
	}
	return s, nil
}

// ProcessorFor returns the processor owning the instrument, assigning one on
// first use.
func (s *Scheduler) ProcessorFor(instrument Instrument) (*Processor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.owners[instrument]; ok {
		return p, nil
	}
	if s.isShutdown.Load() {
		return nil, ErrShutdown
	}

	var p *Processor
	if len(s.processors) < s.maxProcessors {
		created, err := s.newProcessor(len(s.processors))
		if err != nil {
			return nil, err
		}
		created.Start()
		s.processors = append(s.processors, created)
		p = created
	} else {
		p = s.processors[s.folded%len(s.processors)]
		s.folded++
	}
	s.owners[instrument] = p
	s.logger.Info("instrument assigned",
		zap.String("instrument", instrument.String()),
		zap.Int("processor", p.ID()),
	)
	return p, nil
}

func (s *Scheduler) newProcessor(id int) (*Processor, error) {
	p, err := NewProcessor(id, s.registry, s.handlers,
		WithProcessorPriceFeed(s.feed),
		WithProcessorRollback(s.rollback),
		WithProcessorLogger(s.logger.With(zap.Int("processor", id))),
		WithProcessorDiagnostics(s.diagnostics),
		WithProcessorQueueCapacity(s.queueCapacity),
		WithClock(s.clock),
		withRetireHook(s.forget),
	)
	if err != nil {
		return nil, err
	}
	if s.paused.Load() {
		p.DisableMatching()
	}
	if s.metrics != nil {
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "match",
			Name:        "processor_pending_commands",
			Help:        "Number of commands queued on a processor.",
			ConstLabels: prometheus.Labels{"processor": strconv.Itoa(id)},
		}, func() float64 {
			return float64(p.Pending())
		})
		if err := s.metrics.Register(gauge); err != nil {
			s.logger.Warn("register queue gauge failed", zap.Int("processor", id), zap.Error(err))
		}
	}
	return p, nil
}

func (s *Scheduler) forget(order *Order) {
	s.index.Delete(order.ID)
}

// Processors returns the processors created so far.
func (s *Scheduler) Processors() []*Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Processor, len(s.processors))
	copy(result, s.processors)
	return result
}

func (s *Scheduler) Router() Router {
	return s.router
}

func (s *Scheduler) PriceFeed() PriceFeed {
	return s.feed
}

// Submit resolves the command's books and queues it on the owning processor.
// The outcome is reported through the command.
func (s *Scheduler) Submit(cmd *Command) error {
	if s.isShutdown.Load() {
		return ErrShutdown
	}
	if cmd.done == nil {
		cmd.done = make(chan struct{})
	}
	if len(cmd.ID) == 0 {
		cmd.ID = newCommand(cmd.Type).ID
	}

	switch cmd.Type {
	case CmdAddOrder:
		if cmd.Order == nil || len(cmd.Order.ID) == 0 {
			return ErrInvalidOrder
		}
		book := s.router.Route(cmd.Order)
		if _, loaded := s.index.LoadOrStore(cmd.Order.ID, book); loaded {
			return ErrDuplicateOrder
		}
		cmd.OrderID = cmd.Order.ID
		cmd.Instrument = cmd.Order.Instrument
		cmd.books = []*OrderBook{book}
		cmd.OnComplete = chainComplete(cmd.OnComplete, func(c *Command) {
			// a rejected order never rested
			if c.Err != nil && c.book().Order(c.OrderID) == nil {
				s.index.Delete(c.OrderID)
			}
		})
	case CmdCancelOrder, CmdActivateOrder:
		v, ok := s.index.Load(cmd.OrderID)
		if !ok {
			return ErrNotFound
		}
		book := v.(*OrderBook)
		cmd.Instrument = book.Instrument()
		cmd.books = []*OrderBook{book}
	case CmdPriceChange:
		if !cmd.Price.IsPositive() {
			return fmt.Errorf("%w: price must be positive", ErrInvalidParam)
		}
		if cmd.External {
			s.feed.Update(cmd.Instrument, cmd.Price, s.clock())
		}
		cmd.books = s.router.Books(cmd.Instrument)
		if len(cmd.books) == 0 {
			cmd.complete(nil, s.clock())
			return nil
		}
	default:
		return fmt.Errorf("%w: command type %d", ErrInvalidParam, cmd.Type)
	}

	p, err := s.ProcessorFor(cmd.Instrument)
	if err == nil {
		err = p.Enqueue(cmd)
	}
	if err != nil && cmd.Type == CmdAddOrder {
		s.index.Delete(cmd.Order.ID)
	}
	return err
}

func chainComplete(first, second func(*Command)) func(*Command) {
	if first == nil {
		return second
	}
	return func(c *Command) {
		second(c)
		first(c)
	}
}

// AddOrder submits a new order.
func (s *Scheduler) AddOrder(order *Order) (*Command, error) {
	cmd := NewAddOrderCommand(order)
	return cmd, s.Submit(cmd)
}

// CancelOrder cancels a resting or pending order by its ID.
func (s *Scheduler) CancelOrder(orderID string) (*Command, error) {
	cmd := NewCancelOrderCommand(orderID)
	return cmd, s.Submit(cmd)
}

// ActivateOrder forces activation of a pending stop order.
func (s *Scheduler) ActivateOrder(orderID string) (*Command, error) {
	cmd := NewActivateOrderCommand(orderID)
	return cmd, s.Submit(cmd)
}

// PriceChange feeds a price into the instrument's books and triggers the
// stops it reaches.
func (s *Scheduler) PriceChange(instrument Instrument, price decimal.Decimal, external bool) (*Command, error) {
	cmd := NewPriceChangeCommand(instrument, price, external)
	return cmd, s.Submit(cmd)
}

// Dispatch decodes a wire envelope and submits it.
func (s *Scheduler) Dispatch(envelope *protocol.Command) (*Command, error) {
	cmd, err := CommandFromProtocol(s.serializer, envelope)
	if err != nil {
		return nil, err
	}
	return cmd, s.Submit(cmd)
}

// EnableMatching resumes matching on every processor.
func (s *Scheduler) EnableMatching() {
	s.paused.Store(false)
	for _, p := range s.Processors() {
		p.EnableMatching()
	}
}

// DisableMatching pauses matching on every processor, including the ones
// created afterwards.
func (s *Scheduler) DisableMatching() {
	s.paused.Store(true)
	for _, p := range s.Processors() {
		p.DisableMatching()
	}
}

// Shutdown stops accepting commands and waits for every processor to drain
// its queue or for ctx to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	for _, p := range s.Processors() {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			if err := p.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("processor %d: %w", p.ID(), err))
				errMu.Unlock()
			}
		}(p)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// IsMatching reports whether matching is enabled for new and existing processors.
func (s *Scheduler) IsMatching() bool {
	return !s.paused.Load()
}
