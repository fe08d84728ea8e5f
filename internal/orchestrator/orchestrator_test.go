package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/lendflow/internal/audit"
	"github.com/ashureev/lendflow/internal/bureau"
	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/kyc"
	"github.com/ashureev/lendflow/internal/metrics"
	"github.com/ashureev/lendflow/internal/nlu"
	"github.com/ashureev/lendflow/internal/presenter"
	"github.com/ashureev/lendflow/internal/sales"
	"github.com/ashureev/lendflow/internal/sanction"
	"github.com/ashureev/lendflow/internal/store"
	"github.com/ashureev/lendflow/internal/underwriting"
)

type fakeScores struct {
	mu     sync.Mutex
	scores map[string]int
	err    error
}

func (f *fakeScores) Score(_ context.Context, customerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[customerID], nil
}

func (f *fakeScores) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type failingRegistry struct{}

func (failingRegistry) LookupByPAN(context.Context, string) (*domain.CustomerRecord, error) {
	return nil, errors.New("registry unavailable")
}

type flakyGenerator struct {
	next  sanction.Generator
	fails atomic.Int32
}

func (g *flakyGenerator) Render(ctx context.Context, req sanction.Request) (sanction.Document, error) {
	if g.fails.Load() > 0 {
		g.fails.Add(-1)
		return sanction.Document{}, errors.New("disk full")
	}
	return g.next.Render(ctx, req)
}

// countingLocker tracks locks that were taken but not released.
type countingLocker struct {
	next        store.Locker
	outstanding atomic.Int32
}

func (c *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := c.next.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	c.outstanding.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			c.outstanding.Add(-1)
			unlock()
		})
	}, nil
}

type harness struct {
	orch      *Orchestrator
	store     *store.SQLiteStore
	audit     *audit.FileSink
	scores    *fakeScores
	locker    *countingLocker
	generator *flakyGenerator
	metrics   *metrics.Registry
}

// conflictingStore fails every Save as if another writer got there first.
type conflictingStore struct {
	store.SessionStore
}

func (conflictingStore) Save(_ context.Context, sess *domain.Session) error {
	return fmt.Errorf("%w: session %s changed since version %d", domain.ErrPersistenceConflict, sess.ID, sess.Version)
}

func newHarness(t *testing.T, registry kyc.Registry) *harness {
	t.Helper()
	return newHarnessWithStore(t, registry, nil)
}

// newHarnessWithStore builds a harness whose orchestrator sees the SQLite
// store through wrap, when wrap is non-nil.
func newHarnessWithStore(t *testing.T, registry kyc.Registry, wrap func(store.SessionStore) store.SessionStore) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sink, err := audit.NewFileSink(filepath.Join(dir, "audit"), nil)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	letters, err := sanction.NewFileGenerator(filepath.Join(dir, "letters"))
	if err != nil {
		t.Fatalf("NewFileGenerator() error = %v", err)
	}

	if registry == nil {
		reg, err := bureau.LoadRegistry("")
		if err != nil {
			t.Fatalf("LoadRegistry() error = %v", err)
		}
		registry = reg
	}

	h := &harness{
		store:     st,
		audit:     sink,
		scores:    &fakeScores{scores: map[string]int{}},
		locker:    &countingLocker{next: store.NewMemoryLocker(time.Second)},
		generator: &flakyGenerator{next: letters},
		metrics:   metrics.NewRegistry(),
	}

	var sessions store.SessionStore = st
	if wrap != nil {
		sessions = wrap(st)
	}

	h.orch, err = New(Deps{
		Store:       sessions,
		Locker:      h.locker,
		NLU:         nlu.NewRules(),
		Sales:       sales.NewCollector(),
		KYC:         kyc.NewValidator(registry),
		Underwriter: underwriting.NewEngine(h.scores),
		Sanction:    h.generator,
		Audit:       sink,
		Presenter:   presenter.NewPlain("LendFlow"),
		Metrics:     h.metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func (h *harness) start(t *testing.T) string {
	t.Helper()
	reply, err := h.orch.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if reply.Stage != domain.StageSales || !strings.HasPrefix(reply.SessionID, "sess_") || len(reply.SessionID) != 13 {
		t.Fatalf("Start() = %+v", reply)
	}
	return reply.SessionID
}

func (h *harness) say(t *testing.T, id, text string) Reply {
	t.Helper()
	reply, err := h.orch.HandleTurn(context.Background(), id, text)
	if err != nil {
		t.Fatalf("HandleTurn(%q) error = %v", text, err)
	}
	if n := h.locker.outstanding.Load(); n != 0 {
		t.Fatalf("HandleTurn(%q) left %d locks held", text, n)
	}
	return reply
}

func (h *harness) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	sess, err := h.store.Load(context.Background(), id)
	if err != nil || sess == nil {
		t.Fatalf("Load(%s) = %v, %v", id, sess, err)
	}
	return sess
}

func (h *harness) transitions(t *testing.T, id string) []string {
	t.Helper()
	trail, err := h.audit.Trail(id)
	if err != nil {
		t.Fatalf("Trail() error = %v", err)
	}
	var out []string
	for _, e := range trail {
		if e.Transition != nil {
			out = append(out, string(e.Transition.From)+">"+string(e.Transition.To))
		}
	}
	return out
}

func TestHappyPathApproved(t *testing.T) {
	h := newHarness(t, nil)
	h.scores.scores["CUST001"] = 760
	id := h.start(t)

	reply := h.say(t, id, "I need 5 lakhs for 3 years")
	if reply.Stage != domain.StageKYC {
		t.Fatalf("after sales stage = %s, message %q", reply.Stage, reply.Message)
	}
	if !strings.Contains(reply.Message, "Rs. 500,000") {
		t.Errorf("quote message = %q", reply.Message)
	}

	reply = h.say(t, id, "My name is Rajesh Kumar, PAN ABCDE1234F, salaried")
	if reply.Stage != domain.StageCompleted {
		t.Fatalf("after kyc stage = %s, message %q", reply.Stage, reply.Message)
	}
	for _, want := range []string{"approved", "10.5% per annum", "Rate Breakdown: Base 11% -0.5% (credit score adjustment)", "Sanction ID: SL", "Rs. 16,251.22"} {
		if !strings.Contains(reply.Message, want) {
			t.Errorf("final message missing %q:\n%s", want, reply.Message)
		}
	}

	sess := h.session(t, id)
	if sess.CustomerID != "CUST001" || sess.CustomerName != "Rajesh Kumar" {
		t.Errorf("customer = %q/%q", sess.CustomerID, sess.CustomerName)
	}
	if sess.Underwriting == nil || sess.Underwriting.Decision != domain.DecisionApproved || sess.Underwriting.FinalRate != 10.5 {
		t.Errorf("underwriting = %+v", sess.Underwriting)
	}
	if sess.Sanction == nil || sess.Sanction.FinalEMI != 16_251.22 || sess.Sanction.ValidityDays != 30 {
		t.Errorf("sanction = %+v", sess.Sanction)
	}
	if len(sess.Turns) != 5 {
		t.Errorf("turns = %d, want 5", len(sess.Turns))
	}

	want := []string{"NONE>SALES", "SALES>KYC", "KYC>UNDERWRITING", "UNDERWRITING>SANCTION", "SANCTION>COMPLETED"}
	if got := h.transitions(t, id); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	sum, err := h.orch.Summary(context.Background(), id)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if !sum.SanctionIssued || sum.ApprovedPrincipal != 500_000 || sum.Stage != domain.StageCompleted {
		t.Errorf("Summary() = %+v", sum)
	}

	reply = h.say(t, id, "thanks!")
	if reply.Stage != domain.StageCompleted || !strings.Contains(reply.Message, "complete") {
		t.Errorf("closing reply = %+v", reply)
	}
}

func TestConditionalApprovalCapsPrincipal(t *testing.T) {
	h := newHarness(t, nil)
	h.scores.scores["CUST002"] = 710
	id := h.start(t)

	h.say(t, id, "I want a loan of 15 lakhs for 4 years")
	reply := h.say(t, id, "My name is Priya Sharma, PAN FGHIJ5678K, salaried")
	if reply.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, message %q", reply.Stage, reply.Message)
	}
	if !strings.Contains(reply.Message, "conditionally approved") {
		t.Errorf("message = %q", reply.Message)
	}

	sess := h.session(t, id)
	uw := sess.Underwriting
	if uw.Decision != domain.DecisionConditional || uw.ApprovedPrincipal != 1_000_000 || uw.Reason != domain.ReasonCappedToMaxEligible {
		t.Errorf("underwriting = %+v", uw)
	}
	if uw.FinalRate != 11.2 {
		t.Errorf("final rate = %v, want 11.2", uw.FinalRate)
	}
	if sess.Sanction.FinalEMI != 25_942.76 {
		t.Errorf("final EMI = %v, want 25942.76", sess.Sanction.FinalEMI)
	}
}

func TestRejectedApplicationFails(t *testing.T) {
	h := newHarness(t, nil)
	h.scores.scores["CUST001"] = 650
	id := h.start(t)

	h.say(t, id, "I need 5 lakhs for 3 years")
	reply := h.say(t, id, "My name is Rajesh Kumar, PAN ABCDE1234F, salaried")
	if reply.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, message %q", reply.Stage, reply.Message)
	}
	if !strings.Contains(reply.Message, "support team") || strings.Contains(reply.Message, "Sanction ID") {
		t.Errorf("message = %q", reply.Message)
	}

	sess := h.session(t, id)
	if sess.Underwriting == nil || sess.Underwriting.ApprovedPrincipal != 0 || sess.Sanction != nil {
		t.Errorf("session = %+v", sess)
	}

	reply = h.say(t, id, "please reconsider")
	if reply.Stage != domain.StageFailed || !strings.Contains(reply.Message, "support") {
		t.Errorf("closing reply = %+v", reply)
	}
}

func TestInvalidPANFailsKYC(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t)

	h.say(t, id, "I need 5 lakhs for 3 years")
	reply := h.say(t, id, "Rajesh Kumar, PAN INVALID123, salaried")
	if reply.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, message %q", reply.Stage, reply.Message)
	}
	if !strings.Contains(reply.Message, "INVALID_PAN_FORMAT") {
		t.Errorf("message = %q", reply.Message)
	}

	sess := h.session(t, id)
	if sess.KYC == nil || sess.KYC.Status != domain.KYCFailed || sess.Underwriting != nil {
		t.Errorf("session kyc = %+v underwriting = %+v", sess.KYC, sess.Underwriting)
	}
	want := []string{"NONE>SALES", "SALES>KYC", "KYC>FAILED"}
	if got := h.transitions(t, id); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestEmploymentMismatchFailsKYC(t *testing.T) {
	h := newHarness(t, nil)
	h.scores.scores["CUST001"] = 760
	id := h.start(t)

	h.say(t, id, "I need 5 lakhs for 3 years")
	reply := h.say(t, id, "My name is Rajesh Kumar, PAN ABCDE1234F, I run a business")
	if reply.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, message %q", reply.Stage, reply.Message)
	}
	if !strings.Contains(reply.Message, "DATA_MISMATCH") {
		t.Errorf("message = %q", reply.Message)
	}

	sess := h.session(t, id)
	if sess.KYC == nil || sess.KYC.Status != domain.KYCFailed || sess.KYC.MonthlyIncome != 0 {
		t.Errorf("session kyc = %+v", sess.KYC)
	}
	if sess.CustomerID != "CUST001" || sess.Underwriting != nil || sess.Sanction != nil {
		t.Errorf("session customer = %q underwriting = %+v sanction = %+v", sess.CustomerID, sess.Underwriting, sess.Sanction)
	}
	want := []string{"NONE>SALES", "SALES>KYC", "KYC>FAILED"}
	if got := h.transitions(t, id); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestPersistenceConflictLeavesTranscriptUnchanged(t *testing.T) {
	h := newHarnessWithStore(t, nil, func(s store.SessionStore) store.SessionStore {
		return conflictingStore{SessionStore: s}
	})
	id := h.start(t)
	before := h.session(t, id)

	_, err := h.orch.HandleTurn(context.Background(), id, "I need 5 lakhs for 3 years")
	if !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Fatalf("HandleTurn() error = %v, want ErrPersistenceConflict", err)
	}
	if n := h.locker.outstanding.Load(); n != 0 {
		t.Errorf("lock not released after conflict: %d outstanding", n)
	}

	after := h.session(t, id)
	if len(after.Turns) != len(before.Turns) {
		t.Errorf("turns = %d, want %d", len(after.Turns), len(before.Turns))
	}
	if after.Stage != domain.StageSales || after.Quote != nil || after.Version != before.Version {
		t.Errorf("conflicting turn mutated session: %+v", after)
	}
}

func TestClarificationLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t)
	before := h.session(t, id)

	for _, text := range []string{"I need 5 lakhs", "hello there"} {
		reply := h.say(t, id, text)
		if reply.Stage != domain.StageSales {
			t.Errorf("HandleTurn(%q) stage = %s", text, reply.Stage)
		}
	}
	reply := h.say(t, id, "I need 5 lakhs")
	if !strings.Contains(reply.Message, "tenure") {
		t.Errorf("clarification = %q, want it to ask for tenure", reply.Message)
	}

	after := h.session(t, id)
	if after.Version != before.Version || after.Quote != nil || after.Stage != domain.StageSales {
		t.Errorf("clarification mutated session: %+v", after)
	}
	if len(after.Turns) != len(before.Turns)+6 {
		t.Errorf("turns = %d, want %d", len(after.Turns), len(before.Turns)+6)
	}
}

func TestWorkerErrorLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, failingRegistry{})
	id := h.start(t)

	h.say(t, id, "I need 5 lakhs for 3 years")
	before := h.session(t, id)

	reply := h.say(t, id, "My name is Rajesh Kumar, PAN ABCDE1234F, salaried")
	if reply.Stage != domain.StageKYC {
		t.Fatalf("stage = %s", reply.Stage)
	}
	if strings.Contains(reply.Message, "registry unavailable") {
		t.Errorf("raw error leaked to customer: %q", reply.Message)
	}

	after := h.session(t, id)
	if after.Version != before.Version || after.KYC != nil || after.CustomerID != "" {
		t.Errorf("worker error mutated session: %+v", after)
	}

	trail, err := h.audit.Trail(id)
	if err != nil {
		t.Fatalf("Trail() error = %v", err)
	}
	var failed *audit.Execution
	for _, e := range trail {
		if e.Execution != nil && e.Execution.Component == componentKYC {
			failed = e.Execution
		}
	}
	if failed == nil || failed.Success || !strings.Contains(failed.Error, "registry unavailable") {
		t.Errorf("kyc execution record = %+v", failed)
	}
}

func TestUnderwritingRetryAfterScoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.scores.scores["CUST001"] = 760
	h.scores.fail(errors.New("bureau timeout"))
	id := h.start(t)

	h.say(t, id, "I need 5 lakhs for 3 years")
	reply := h.say(t, id, "My name is Rajesh Kumar, PAN ABCDE1234F, salaried")
	if reply.Stage != domain.StageUnderwriting {
		t.Fatalf("stage = %s, message %q", reply.Stage, reply.Message)
	}
	sess := h.session(t, id)
	if sess.KYC == nil || !sess.KYC.Verified() || sess.Underwriting != nil {
		t.Fatalf("session after score failure: kyc=%+v underwriting=%+v", sess.KYC, sess.Underwriting)
	}

	h.scores.fail(nil)
	reply = h.say(t, id, "any update?")
	if reply.Stage != domain.StageCompleted {
		t.Errorf("stage after retry = %s, message %q", reply.Stage, reply.Message)
	}
}

func TestSanctionRetryAfterGeneratorFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.scores.scores["CUST001"] = 760
	h.generator.fails.Store(1)
	id := h.start(t)

	h.say(t, id, "I need 5 lakhs for 3 years")
	reply := h.say(t, id, "My name is Rajesh Kumar, PAN ABCDE1234F, salaried")
	if reply.Stage != domain.StageSanction {
		t.Fatalf("stage = %s, message %q", reply.Stage, reply.Message)
	}
	if sess := h.session(t, id); sess.Underwriting == nil || sess.Sanction != nil {
		t.Fatalf("session after sanction failure = %+v", sess)
	}

	reply = h.say(t, id, "download letter")
	if reply.Stage != domain.StageCompleted || !strings.Contains(reply.Message, "Sanction ID") {
		t.Errorf("reply after retry = %+v", reply)
	}
}

func TestHandleTurnErrors(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.HandleTurn(context.Background(), "sess_missing", "hello")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("HandleTurn(missing) error = %v, want ErrSessionNotFound", err)
	}
	if n := h.locker.outstanding.Load(); n != 0 {
		t.Errorf("lock not released after error: %d outstanding", n)
	}

	id := h.start(t)
	if _, err := h.orch.HandleTurn(context.Background(), id, "   "); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("HandleTurn(blank) error = %v, want ErrValidation", err)
	}
	if _, err := h.orch.Summary(context.Background(), "sess_missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Summary(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestConcurrentTurnsApplyOnce(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orch.HandleTurn(context.Background(), id, "I need 5 lakhs for 3 years"); err != nil {
				t.Errorf("HandleTurn() error = %v", err)
			}
		}()
	}
	wg.Wait()

	sess := h.session(t, id)
	if sess.Stage != domain.StageKYC {
		t.Errorf("stage = %s, want KYC", sess.Stage)
	}
	count := 0
	for _, tr := range h.transitions(t, id) {
		if tr == "SALES>KYC" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("SALES>KYC recorded %d times, want 1", count)
	}
	if len(sess.Turns) != 1+2*8 {
		t.Errorf("turns = %d, want %d", len(sess.Turns), 1+2*8)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(empty) succeeded, want error")
	}
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if !strings.HasPrefix(id, "sess_") || len(id) != 13 {
		t.Errorf("NewSessionID() = %q", id)
	}
	if id == NewSessionID() {
		t.Error("NewSessionID() returned duplicates")
	}
}
