package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Simply-Furaha/App/internal/application"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	domoutbox "github.com/Simply-Furaha/App/internal/domain/outbox"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService    = "payment-service"
	spanPrefix        = "UC."
	gatewayPeer       = "payment_gateway"
	publishTimeout    = 300 * time.Millisecond
	defaultDeadline   = 120 * time.Second
	defaultPollEvery  = 3 * time.Second
	defaultQueryLimit = 10 * time.Second
	defaultInitLimit  = 30 * time.Second
)

var (
	ErrNotFound   = dompay.ErrNotFound
	ErrRepository = errors.New("payment: repository failure")
	ErrShutdown   = errors.New("payment: orchestrator is shut down")
)

// Config tunes the confirmation window. Zero values take the defaults.
type Config struct {
	// Deadline is measured from the moment a request enters Pending.
	Deadline     time.Duration
	PollInterval time.Duration
	// QueryTimeout bounds one status query; the deadline bounds it too.
	QueryTimeout time.Duration

	// InitiateTimeout bounds the push call, which does not follow the
	// caller's cancellation once started.
	InitiateTimeout time.Duration
	Now             func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = defaultDeadline
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollEvery
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryLimit
	}
	if c.InitiateTimeout <= 0 {
		c.InitiateTimeout = defaultInitLimit
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Dependencies are the collaborators of the Orchestrator. Eligibility,
// Publisher and LoopContext are optional.
type Dependencies struct {
	Repo        dompay.Repository
	Gateway     Gateway
	Reconciler  Reconciler
	IDs         IDGenerator
	Eligibility Eligibility
	Publisher   domoutbox.Publisher
	LoopContext LoopContextFunc
}

// Orchestrator drives payment requests from submission to a terminal state,
// one cancellable poll loop per pending request.
type Orchestrator struct {
	repo        dompay.Repository
	gateway     Gateway
	reconciler  Reconciler
	ids         IDGenerator
	eligibility Eligibility
	publisher   domoutbox.Publisher
	loopContext LoopContextFunc
	cfg         Config
	tel         observability.Observability

	log observability.Logger
	// RED metrics (supplied via DI; do not instantiate inside methods).
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}

	terminalCounter observability.Counter // payment_requests_terminal_total{kind,state}
	queryCounter    observability.Counter // payment_status_queries_total{outcome}

	locks   *keyLock
	loops   *loopRegistry
	baseCtx context.Context
}

var _ application.UseCase[SubmitInput, *SubmitResult] = (*Orchestrator)(nil)

func NewOrchestrator(deps Dependencies, cfg Config, tel observability.Observability) *Orchestrator {
	tel = observability.Or(tel)
	metrics := tel.Metrics()

	loopCtx := deps.LoopContext
	if loopCtx == nil {
		loopCtx = func(ctx context.Context, _ map[string]string) context.Context { return ctx }
	}

	return &Orchestrator{
		repo:            deps.Repo,
		gateway:         deps.Gateway,
		reconciler:      deps.Reconciler,
		ids:             deps.IDs,
		eligibility:     deps.Eligibility,
		publisher:       deps.Publisher,
		loopContext:     loopCtx,
		cfg:             cfg.withDefaults(),
		tel:             tel,
		log:             tel.Logger().With(observability.F("service", paymentService)),
		reqCounter:      metrics.Counter(observability.MUsecaseRequests),
		durHistogram:    metrics.Histogram(observability.MUsecaseDuration),
		extCounter:      metrics.Counter(observability.MExternalRequests),
		extHistogram:    metrics.Histogram(observability.MExternalRequestDuration),
		terminalCounter: metrics.Counter(observability.MPaymentTerminal),
		queryCounter:    metrics.Counter(observability.MPaymentStatusQueries),
		locks:           newKeyLock(),
		loops:           newLoopRegistry(),
		baseCtx:         context.Background(),
	}
}

func (o *Orchestrator) now() time.Time { return o.cfg.Now() }

// ActiveLoops reports how many poll loops are running.
func (o *Orchestrator) ActiveLoops() int { return o.loops.count() }

// Shutdown stops every poll loop and waits for them to exit. Pending records
// stay Pending and can be resumed by the next process.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.loops.stopAll(ctx)
}

// run wraps a use case with a span, RED metrics and the use_case_done log line.
type run struct {
	o          *Orchestrator
	useCase    string
	span       trace.Span
	logger     observability.Logger
	start      time.Time
	outcome    string
	statusText string
	fields     []observability.Field
}

func (o *Orchestrator) begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *run) {
	logger := logctx.FromOr(ctx, o.log).With(observability.F("use_case", useCase))
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := o.tel.Tracer().Start(ctx, spanPrefix+spanName, attrs...)
	return ctx, &run{
		o:          o,
		useCase:    useCase,
		span:       span,
		logger:     logger,
		start:      time.Now(),
		outcome:    "success",
		statusText: "OK",
	}
}

func (r *run) fail(statusText string) {
	r.outcome, r.statusText = "error", statusText
}

func (r *run) with(fields ...observability.Field) {
	r.fields = append(r.fields, fields...)
}

func (r *run) end(ctx context.Context, err error) {
	lat := time.Since(r.start).Seconds()

	if r.span != nil {
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, r.statusText)
		} else {
			r.span.SetStatus(codes.Ok, r.statusText)
		}
		r.span.End()
	}

	r.o.reqCounter.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.o.durHistogram.Observe(lat,
		observability.L("use_case", r.useCase),
	)

	fields := append([]observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.statusText),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	r.logger.Info("use_case_done", fields...)
}

// publish hands an event to the bus with a bounded wait. Failures are logged,
// never returned: the store is the source of truth.
func (o *Orchestrator) publish(ctx context.Context, e domoutbox.Event) {
	if o.publisher == nil || e == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(logctx.Detach(ctx), publishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	if err := o.publisher.Publish(pubCtx, e); err != nil {
		outcome = "error"
		logctx.FromOr(ctx, o.log).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
	o.extCounter.Add(1,
		observability.L("peer", "outbox"),
		observability.L("endpoint", e.EventName()),
		observability.L("outcome", outcome),
	)
	o.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", "outbox"),
		observability.L("endpoint", e.EventName()),
	)
}

// recordTerminal counts a terminal transition and publishes its event.
func (o *Orchestrator) recordTerminal(ctx context.Context, r *dompay.Request) {
	o.terminalCounter.Add(1,
		observability.L("kind", string(r.Target.Kind)),
		observability.L("state", string(r.State)),
	)
	if ev := dompay.NewTerminalEvent(r); ev != nil {
		o.publish(ctx, ev)
	}
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, dompay.ErrNotFound),
		errors.Is(err, dompay.ErrConflict),
		errors.Is(err, dompay.ErrDuplicateRequestInProgress):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
