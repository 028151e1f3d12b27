package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/course-checkout/internal/countdown"
	"github.com/wolfman30/course-checkout/internal/export"
	"github.com/wolfman30/course-checkout/internal/observability/metrics"
	"github.com/wolfman30/course-checkout/pkg/logging"
)

var tracer = otel.Tracer("checkout.internal.checkout")

// Deps are the collaborators shared by every session.
type Deps struct {
	Logger  *logging.Logger
	Sink    export.Sink
	Metrics *metrics.CheckoutMetrics
	// Clock defaults to time.Now.
	Clock func() time.Time
	// NewTxID defaults to NewTransactionID with the global random source.
	NewTxID func(now time.Time) string
	// TimerInterval defaults to countdown.DefaultInterval.
	TimerInterval time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Sink == nil {
		d.Sink = export.Discard
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewTxID == nil {
		d.NewTxID = func(now time.Time) string { return NewTransactionID(now, nil) }
	}
	if d.TimerInterval <= 0 {
		d.TimerInterval = countdown.DefaultInterval
	}
	return d
}

// Session is one visitor's pass through the checkout: the form, the current
// step, the reservation timer and, once paid, the payment record.
type Session struct {
	id     string
	deps   Deps
	logger *logging.Logger
	timer  *countdown.Timer

	mu       sync.Mutex
	form     FormData
	step     Step
	payment  *PaymentRecord
	lastSeen time.Time
	unloaded bool

	unloadOnce sync.Once
}

// NewSession builds a session on step 1. Call Start to begin the timer.
func NewSession(id string, deps Deps) *Session {
	deps = deps.withDefaults()
	s := &Session{
		id:       id,
		deps:     deps,
		logger:   deps.Logger.With("session_id", id),
		form:     NewFormData(),
		step:     StepDetails,
		lastSeen: deps.Clock(),
	}
	s.timer = countdown.New(countdown.DefaultSeconds,
		countdown.WithInterval(deps.TimerInterval),
		countdown.OnExpire(s.onTimerExpired),
	)
	return s
}

func (s *Session) ID() string { return s.id }

// Timer exposes the reservation timer for streaming and tests.
func (s *Session) Timer() *countdown.Timer { return s.timer }

// Start logs the initialization, exports the pricing snapshot and starts the
// timer. The timer stops when ctx is done.
func (s *Session) Start(ctx context.Context) {
	s.logger.Info("checkout initialized", "course", Course)
	s.logger.Info("pricing", "pricing", PricingSnapshot)
	s.emit(ctx, export.KindPricing, PricingSnapshot)
	s.timer.Start(ctx)
}

// SetField records an input change. The raw value is stored as typed.
func (s *Session) SetField(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.form.set(field, value)
}

// SelectEnrollment records a change of the enrollment radio.
func (s *Session) SelectEnrollment(label string) error {
	e, err := ParseEnrollment(label)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.form.EnrollingFor = e
	return nil
}

// Advance validates the details step and moves to the payment step. On any
// failure the form and step are left untouched.
func (s *Session) Advance(ctx context.Context, in DetailsInput) error {
	ctx, span := tracer.Start(ctx, "checkout.advance")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.session_id", s.id))

	s.mu.Lock()
	s.touchLocked()
	if s.step != StepDetails {
		step := s.step
		s.mu.Unlock()
		span.SetAttributes(attribute.String("checkout.step", step.String()))
		return ErrStepOutOfOrder
	}

	if err := Validate(in); err != nil {
		s.mu.Unlock()
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.deps.Metrics.ObserveAdvance("invalid", verr.Focus())
			span.SetAttributes(attribute.String("checkout.invalid_field", verr.Focus()))
			s.logger.Debug("details rejected", "field", verr.Focus(), "message", verr.First().Message)
		}
		return err
	}

	in = in.Trimmed()
	enrolling := s.form.EnrollingFor
	if in.EnrollingFor != "" {
		e, err := ParseEnrollment(in.EnrollingFor)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		enrolling = e
	}

	s.form = FormData{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Email:        in.Email,
		Referral:     in.Referral,
		EnrollingFor: enrolling,
	}
	s.step = StepPayment
	form := s.form
	s.mu.Unlock()

	s.deps.Metrics.ObserveAdvance("ok", "")
	s.logger.Info("form data", "form_data", form)
	s.logger.Info("proceeding to payment step")
	s.emit(ctx, export.KindFormData, form)
	return nil
}

// ConfirmPayment marks the payment as completed: the success view replaces the
// main container, the timer stops and a PaymentRecord is exported. It does not
// check the current step; see ConfirmAwaitingPayment.
func (s *Session) ConfirmPayment(ctx context.Context) PaymentRecord {
	record, _ := s.confirm(ctx, false)
	return record
}

// ConfirmAwaitingPayment confirms only when the session is on the payment step
// and returns ErrStepOutOfOrder otherwise.
func (s *Session) ConfirmAwaitingPayment(ctx context.Context) (PaymentRecord, error) {
	return s.confirm(ctx, true)
}

func (s *Session) confirm(ctx context.Context, requirePaymentStep bool) (PaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "checkout.confirm_payment")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.session_id", s.id))

	s.mu.Lock()
	s.touchLocked()
	if requirePaymentStep && s.step != StepPayment {
		step := s.step
		s.mu.Unlock()
		span.SetAttributes(attribute.String("checkout.step", step.String()))
		return PaymentRecord{}, ErrStepOutOfOrder
	}
	form := s.form
	s.step = StepComplete
	s.mu.Unlock()

	s.logger.Info("payment marked as completed")
	s.logger.Info("final form data", "form_data", form)

	s.timer.Stop()

	now := s.deps.Clock()
	record := newPaymentRecord(form, now, s.deps.NewTxID(now))

	s.mu.Lock()
	s.payment = &record
	s.mu.Unlock()

	span.SetAttributes(attribute.String("checkout.transaction_id", record.TransactionID))
	s.deps.Metrics.ObservePaymentConfirmed()
	s.logger.Info("submitting payment data", "payment", record)
	s.emit(ctx, export.KindPayment, record)
	return record, nil
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		SessionID: s.id,
		Step:      s.step,
		Views:     ViewFor(s.step),
		Form:      s.form,
		Pricing:   PricingSnapshot,
		Timer:     s.timer.State(),
	}
	if s.payment != nil {
		p := *s.payment
		st.Payment = &p
	}
	return st
}

// VisibilityChanged logs page visibility. The timer keeps running either way.
func (s *Session) VisibilityChanged(hidden bool) {
	s.Touch()
	if hidden {
		s.logger.Info("page hidden")
		return
	}
	s.logger.Info("page visible")
}

// Unload stops the timer. Safe to call more than once.
func (s *Session) Unload() {
	s.unloadOnce.Do(func() {
		s.mu.Lock()
		s.unloaded = true
		s.mu.Unlock()
		s.timer.Stop()
		s.logger.Debug("checkout unloaded")
	})
}

// Abandoned reports whether the page was unloaded before payment completed.
// Such a session can no longer run its timer.
func (s *Session) Abandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unloaded && s.step != StepComplete
}

// Touch marks the session as in use, postponing idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touchLocked() {
	s.lastSeen = s.deps.Clock()
}

func (s *Session) onTimerExpired() {
	s.deps.Metrics.ObserveTimerExpired()
	s.logger.Info("reservation timer expired")
}

func (s *Session) emit(ctx context.Context, kind export.Kind, payload any) {
	ev, err := export.NewEvent(kind, s.id, payload, s.deps.Clock())
	if err != nil {
		s.logger.Error("failed to build export event", "error", err, "kind", string(kind))
		return
	}
	s.deps.Sink.Emit(ctx, ev)
}
