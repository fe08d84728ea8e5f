// Package orchestrator drives a loan application through its stages. It is
// the only component that changes a session's stage; workers compute and
// return values, and the orchestrator decides, persists and audits.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/lendflow/internal/audit"
	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/finance"
	"github.com/ashureev/lendflow/internal/kyc"
	"github.com/ashureev/lendflow/internal/metrics"
	"github.com/ashureev/lendflow/internal/nlu"
	"github.com/ashureev/lendflow/internal/presenter"
	"github.com/ashureev/lendflow/internal/sanction"
	"github.com/ashureev/lendflow/internal/shared"
	"github.com/ashureev/lendflow/internal/store"
	"github.com/ashureev/lendflow/internal/underwriting"
	"github.com/google/uuid"
)

// historyTurns is how much transcript the interpreter sees.
const historyTurns = 3

// Worker component names used in audit records and metrics.
const (
	componentNLU          = "nlu"
	componentSales        = "sales"
	componentKYC          = "kyc"
	componentUnderwriting = "underwriting"
	componentSanction     = "sanction"
)

// Turn outcomes reported to metrics.
const (
	outcomeAdvanced = "advanced"
	outcomeClarify  = "clarify"
	outcomeRetry    = "retry"
	outcomeFailed   = "failed"
	outcomeClosed   = "closed"
)

// QuoteMaker prices a loan requirement.
type QuoteMaker interface {
	Quote(principal int64, tenureMonths int) (domain.SalesQuote, error)
}

// Verifier runs KYC checks.
type Verifier interface {
	Validate(ctx context.Context, a kyc.Applicant) (kyc.Verification, error)
}

// Underwriter decides eligibility.
type Underwriter interface {
	Evaluate(ctx context.Context, app underwriting.Application) (domain.UnderwritingResult, error)
}

// Deps are the collaborators of an Orchestrator. Audit, Presenter, Metrics,
// Logger and Clock are optional.
type Deps struct {
	Store       store.SessionStore
	Locker      store.Locker
	NLU         nlu.Interpreter
	Sales       QuoteMaker
	KYC         Verifier
	Underwriter Underwriter
	Sanction    sanction.Generator
	Audit       audit.Sink
	Presenter   presenter.Presenter
	Metrics     *metrics.Registry
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Reply is the response to a customer turn.
type Reply struct {
	SessionID string       `json:"session_id"`
	Stage     domain.Stage `json:"stage"`
	Message   string       `json:"message"`
}

// Orchestrator runs the stage state machine.
type Orchestrator struct {
	store       store.SessionStore
	locker      store.Locker
	nlu         nlu.Interpreter
	sales       QuoteMaker
	kyc         Verifier
	underwriter Underwriter
	sanction    sanction.Generator
	audit       audit.Sink
	present     presenter.Presenter
	metrics     *metrics.Registry
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// New validates deps and builds an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case d.Locker == nil:
		return nil, errors.New("orchestrator: locker is required")
	case d.NLU == nil:
		return nil, errors.New("orchestrator: nlu interpreter is required")
	case d.Sales == nil, d.KYC == nil, d.Underwriter == nil, d.Sanction == nil:
		return nil, errors.New("orchestrator: all workers are required")
	}

	o := &Orchestrator{
		store:       d.Store,
		locker:      d.Locker,
		nlu:         d.NLU,
		sales:       d.Sales,
		kyc:         d.KYC,
		underwriter: d.Underwriter,
		sanction:    d.Sanction,
		audit:       d.Audit,
		present:     d.Presenter,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         d.Clock,
		newID:       NewSessionID,
	}
	if o.audit == nil {
		o.audit = audit.NopSink{}
	}
	if o.present == nil {
		o.present = presenter.NewPlain("")
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// NewSessionID returns "sess_" followed by eight hex characters.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Start opens a new session at SALES and returns the welcome message.
func (o *Orchestrator) Start(ctx context.Context) (Reply, error) {
	now := o.now().UTC()
	sess := domain.NewSession(o.newID(), now)
	welcome := o.present.Welcome()
	sess.RecordTurn(domain.RoleSystem, welcome, now)

	if err := o.store.Create(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("create session: %w", err)
	}
	o.recordTransition(ctx, sess.ID, domain.StageNone, domain.StageSales, "session started", now)

	o.logger.Info("Session started", "session_id", sess.ID)
	return Reply{SessionID: sess.ID, Stage: sess.Stage, Message: welcome}, nil
}

// HandleTurn processes one customer message. Only one turn per session runs
// at a time. Worker failures produce a retry prompt and leave the session
// unchanged; persistence failures are returned. The customer and system turns
// are appended to the transcript only once the stage handler has succeeded.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: message text is required", domain.ErrValidation)
	}

	unlock, err := o.locker.Lock(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return Reply{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	entry := sess.Stage
	received := o.now().UTC()

	res, err := o.dispatch(ctx, sess, text)
	if err != nil {
		o.metrics.ObserveTurn(string(entry), "error")
		return Reply{}, err
	}

	if err := o.store.AppendTurn(ctx, sessionID, domain.Turn{Role: domain.RoleCustomer, Text: text, Timestamp: received}); err != nil {
		return Reply{}, fmt.Errorf("append customer turn: %w", err)
	}
	if err := o.store.AppendTurn(ctx, sessionID, domain.Turn{Role: domain.RoleSystem, Text: res.message, Timestamp: o.now().UTC()}); err != nil {
		return Reply{}, fmt.Errorf("append system turn: %w", err)
	}

	o.metrics.ObserveTurn(string(entry), res.outcome)
	o.logger.Info("Turn handled",
		"session_id", sessionID,
		"stage", entry,
		"next_stage", res.session.Stage,
		"outcome", res.outcome,
	)
	return Reply{SessionID: sessionID, Stage: res.session.Stage, Message: res.message}, nil
}

// Summary returns a compact view of a session.
func (o *Orchestrator) Summary(ctx context.Context, sessionID string) (domain.Summary, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return domain.Summary{}, err
	}
	return sess.Summarize(), nil
}

// Transcript returns the session's turns in order.
func (o *Orchestrator) Transcript(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

func (o *Orchestrator) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// result is what a stage handler produces: the message for the customer,
// the session as it now stands, and a metrics outcome.
type result struct {
	message string
	session *domain.Session
	outcome string
}

func (o *Orchestrator) dispatch(ctx context.Context, sess *domain.Session, text string) (result, error) {
	switch sess.Stage {
	case domain.StageSales:
		return o.handleSales(ctx, sess, text)
	case domain.StageKYC:
		return o.handleKYC(ctx, sess, text)
	case domain.StageUnderwriting:
		return o.runUnderwriting(ctx, sess)
	case domain.StageSanction:
		return o.runSanction(ctx, sess)
	case domain.StageCompleted, domain.StageFailed:
		return result{message: o.present.Closing(sess.Stage), session: sess, outcome: outcomeClosed}, nil
	}
	return result{}, fmt.Errorf("%w: session %s has unknown stage %q", domain.ErrInvalidTransition, sess.ID, sess.Stage)
}

// interpret classifies the turn and extracts its fields. ok is false when
// the caller should reply with r instead of proceeding.
func (o *Orchestrator) interpret(ctx context.Context, sess *domain.Session, text string) (nlu.Entities, result, bool) {
	history := sess.RecentTurns(historyTurns)
	intent, err := runWorker(ctx, o, sess.ID, componentNLU, text, func() (nlu.Intent, error) {
		return o.nlu.DetectIntent(ctx, text, sess.Stage, history)
	})
	if err != nil {
		return nlu.Entities{}, o.retry(sess), false
	}
	if intent.RequiresClarification {
		return nlu.Entities{}, o.clarify(sess, nil), false
	}

	entities, err := o.nlu.ExtractEntities(ctx, text, intent.Name)
	if err != nil {
		o.logger.Warn("Entity extraction failed", "session_id", sess.ID, "error", err)
		return nlu.Entities{}, o.retry(sess), false
	}
	return entities, result{}, true
}

func (o *Orchestrator) handleSales(ctx context.Context, sess *domain.Session, text string) (result, error) {
	entities, r, ok := o.interpret(ctx, sess, text)
	if !ok {
		return r, nil
	}
	if missing := entities.MissingLoanFields(); len(missing) > 0 {
		return o.clarify(sess, missing), nil
	}

	input := map[string]any{"principal": entities.Amount, "tenure_months": entities.TenureMonths}
	quote, err := runWorker(ctx, o, sess.ID, componentSales, input, func() (domain.SalesQuote, error) {
		return o.sales.Quote(entities.Amount, entities.TenureMonths)
	})
	if err != nil {
		return o.retry(sess), nil
	}

	next := sess.Clone()
	next.Quote = &quote
	if err := o.advance(ctx, next, domain.StageKYC, "sales data collected"); err != nil {
		return result{}, err
	}
	return result{message: o.present.QuoteReady(quote), session: next, outcome: outcomeAdvanced}, nil
}

func (o *Orchestrator) handleKYC(ctx context.Context, sess *domain.Session, text string) (result, error) {
	if sess.Quote == nil {
		return result{}, fmt.Errorf("%w: session %s reached KYC without a quote", domain.ErrInvalidTransition, sess.ID)
	}

	entities, r, ok := o.interpret(ctx, sess, text)
	if !ok {
		return r, nil
	}
	if missing := entities.MissingKYCFields(); len(missing) > 0 {
		return o.clarify(sess, missing), nil
	}

	applicant := kyc.Applicant{Name: entities.Name, PAN: entities.PAN, EmploymentType: entities.EmploymentType}
	ver, err := runWorker(ctx, o, sess.ID, componentKYC, applicant, func() (kyc.Verification, error) {
		return o.kyc.Validate(ctx, applicant)
	})
	if err != nil {
		return o.retry(sess), nil
	}

	next := sess.Clone()
	next.KYC = &ver.Result
	next.CustomerID = ver.CustomerID
	next.CustomerName = entities.Name

	if !ver.Result.Verified() {
		if err := o.advance(ctx, next, domain.StageFailed, "kyc verification failed"); err != nil {
			return result{}, err
		}
		return result{message: o.present.KYCFailed(ver.Result), session: next, outcome: outcomeFailed}, nil
	}

	if err := o.advance(ctx, next, domain.StageUnderwriting, "kyc verified"); err != nil {
		return result{}, err
	}

	uw, err := o.runUnderwriting(ctx, next)
	if err != nil {
		return result{}, err
	}
	uw.message = o.present.KYCVerified(ver.Result) + "\n\n" + uw.message
	return uw, nil
}

// runUnderwriting decides the application and, when approved, goes straight
// on to sanction.
func (o *Orchestrator) runUnderwriting(ctx context.Context, sess *domain.Session) (result, error) {
	if sess.Quote == nil || sess.KYC == nil || !sess.KYC.Verified() {
		return result{}, fmt.Errorf("%w: session %s reached underwriting without verified kyc", domain.ErrInvalidTransition, sess.ID)
	}

	app := underwriting.Application{
		CustomerID:    sess.CustomerID,
		Principal:     sess.Quote.Principal,
		TenureMonths:  sess.Quote.TenureMonths,
		MonthlyIncome: sess.KYC.MonthlyIncome,
		IndicativeEMI: sess.Quote.IndicativeEMI,
	}
	decision, err := runWorker(ctx, o, sess.ID, componentUnderwriting, app, func() (domain.UnderwritingResult, error) {
		return o.underwriter.Evaluate(ctx, app)
	})
	if err != nil {
		return o.retry(sess), nil
	}
	o.metrics.ObserveDecision(string(decision.Decision))

	next := sess.Clone()
	next.Underwriting = &decision
	message := o.present.Decision(decision, sess.Quote.Principal)

	if decision.Decision == domain.DecisionRejected {
		if err := o.advance(ctx, next, domain.StageFailed, "loan rejected: "+string(decision.Reason)); err != nil {
			return result{}, err
		}
		return result{message: message, session: next, outcome: outcomeFailed}, nil
	}

	reason := "loan approved"
	if decision.Decision == domain.DecisionConditional {
		reason = "conditional approval"
	}
	if err := o.advance(ctx, next, domain.StageSanction, reason); err != nil {
		return result{}, err
	}

	sr, err := o.runSanction(ctx, next)
	if err != nil {
		return result{}, err
	}
	sr.message = message + "\n\n" + sr.message
	return sr, nil
}

// runSanction recomputes the EMI on the approved terms and issues the letter.
func (o *Orchestrator) runSanction(ctx context.Context, sess *domain.Session) (result, error) {
	uw := sess.Underwriting
	if sess.Quote == nil || uw == nil || uw.Decision == domain.DecisionRejected {
		return result{}, fmt.Errorf("%w: session %s reached sanction without an approval", domain.ErrInvalidTransition, sess.ID)
	}

	req := sanction.Request{
		SessionID:    sess.ID,
		CustomerID:   sess.CustomerID,
		CustomerName: sess.CustomerName,
		Principal:    uw.ApprovedPrincipal,
		TenureMonths: sess.Quote.TenureMonths,
		AnnualRate:   uw.FinalRate,
		EMI:          finalEMI(uw.ApprovedPrincipal, uw.FinalRate, sess.Quote.TenureMonths),
		RiskGrade:    uw.RiskGrade,
		Decision:     uw.Decision,
	}
	doc, err := runWorker(ctx, o, sess.ID, componentSanction, req, func() (sanction.Document, error) {
		return o.sanction.Render(ctx, req)
	})
	if err != nil {
		return o.retry(sess), nil
	}

	next := sess.Clone()
	next.Sanction = &domain.SanctionRecord{
		SanctionID:   doc.SanctionID,
		DocumentRef:  doc.Reference,
		FinalEMI:     req.EMI,
		ValidityDays: doc.ValidityDays,
		IssuedAt:     doc.IssuedAt,
	}
	if err := o.advance(ctx, next, domain.StageCompleted, "sanction letter generated"); err != nil {
		return result{}, err
	}
	return result{message: o.present.Sanctioned(*next.Sanction), session: next, outcome: outcomeAdvanced}, nil
}

// advance moves sess to target and saves it together with whatever results
// the caller has already placed on it. sess must be a clone: on error the
// caller discards it and the persisted session is unchanged.
func (o *Orchestrator) advance(ctx context.Context, sess *domain.Session, target domain.Stage, reason string) error {
	from := sess.Stage
	if !domain.CanTransition(from, target) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, target)
	}

	now := o.now().UTC()
	sess.Stage = target
	sess.UpdatedAt = now
	if err := o.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	o.recordTransition(ctx, sess.ID, from, target, reason, now)
	return nil
}

func (o *Orchestrator) recordTransition(ctx context.Context, sessionID string, from, to domain.Stage, reason string, at time.Time) {
	o.metrics.ObserveTransition(string(from), string(to))
	err := o.audit.RecordTransition(ctx, audit.Transition{
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: at,
	})
	if err != nil {
		o.logger.Error("Failed to record transition", "session_id", sessionID, "from", from, "to", to, "error", err)
	}
	o.logger.Info("Stage transition", "session_id", sessionID, "from", from, "to", to, "reason", reason)
}

// finalEMI prices the approved principal at the final rate, which can
// differ from the indicative quote on both counts.
func finalEMI(principal int64, rate float64, months int) float64 {
	return finance.EMI(float64(principal), rate, months)
}

func (o *Orchestrator) clarify(sess *domain.Session, missing []string) result {
	return result{message: o.present.Clarify(sess.Stage, missing), session: sess, outcome: outcomeClarify}
}

func (o *Orchestrator) retry(sess *domain.Session) result {
	return result{message: o.present.Retry(sess.Stage), session: sess, outcome: outcomeRetry}
}

// runWorker invokes fn and records the execution in the audit trail and
// metrics. The error is returned for the caller to turn into a reply.
func runWorker[T any](ctx context.Context, o *Orchestrator, sessionID, component string, input any, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	elapsed := time.Since(start)

	exec := audit.Execution{
		SessionID: sessionID,
		Component: component,
		Input:     input,
		Success:   err == nil,
		Duration:  elapsed,
		Timestamp: o.now().UTC(),
	}
	if err != nil {
		exec.Error = err.Error()
		o.logger.Warn("Worker failed",
			"session_id", sessionID,
			"component", component,
			"breaker_open", shared.IsBreakerOpen(err),
			"error", err,
		)
	} else {
		exec.Output = out
	}

	if aerr := o.audit.RecordExecution(ctx, exec); aerr != nil {
		o.logger.Error("Failed to record execution", "session_id", sessionID, "component", component, "error", aerr)
	}
	o.metrics.ObserveWorker(component, err == nil, elapsed)
	return out, err
}
