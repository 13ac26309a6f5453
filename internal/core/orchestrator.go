package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// ReasonRunAborted marks chapters skipped after another chapter exhausted
// its revisions under the abort policy.
const ReasonRunAborted = "run aborted"

// Orchestrator drives one book through planning, casting and the
// per-chapter draft, review and gate loop.
type Orchestrator struct {
	agents  map[narrative.Role]Agent
	cfg     RunConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	runID   string
	sink    ChapterSink

	// set per run
	store *narrative.Store
	phase RunPhase
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithChapterSink saves each chapter as soon as it is accepted.
func WithChapterSink(sink ChapterSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithNow overrides the clock used for timings.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New builds an orchestrator for the given crew. Agents for roles that the
// configuration does not enable are ignored.
func New(agents []Agent, cfg RunConfig, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	cfg.Brief.Chapters = cfg.Chapters
	o := &Orchestrator{
		agents: make(map[narrative.Role]Agent, len(agents)),
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		runID:  uuid.New().String(),
	}
	for _, a := range agents {
		o.agents[a.Role()] = a
	}
	for _, r := range cfg.Enabled {
		if _, ok := o.agents[r]; !ok {
			return nil, fmt.Errorf("no agent for enabled role %s", r)
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator", "run_id", o.runID)
	return o, nil
}

func (o *Orchestrator) RunID() string {
	return o.runID
}

// Store returns the narrative store of the last run.
func (o *Orchestrator) Store() *narrative.Store {
	return o.store
}

// Run produces the book. A fatal planning error returns no report. An
// invalid state transition or cancellation returns the partial report
// alongside the error. Every other failure is recorded per chapter.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.store = narrative.NewStore(o.cfg.Chapters, o.cfg.MaxRevisions, narrative.WithStoreLogger(o.logger))
	o.phase = PhaseInit
	report := &Report{RunID: o.runID, Title: o.cfg.Brief.Title, StartedAt: o.now()}

	o.logger.Info("run started",
		"chapters", o.cfg.Chapters,
		"max_revisions", o.cfg.MaxRevisions,
		"aggressiveness", o.cfg.Aggressiveness,
		"on_exhausted", o.cfg.OnExhausted)

	start := o.now()
	outline, err := o.planPlot(ctx)
	if err != nil {
		o.fail(err)
		return nil, err
	}
	if err := o.advance(PhasePlotReady, start); err != nil {
		return nil, err
	}
	if report.Title == "" {
		report.Title = outline.Title
	}

	start = o.now()
	if err := o.planCast(ctx); err != nil {
		o.fail(err)
		return nil, err
	}
	if err := o.advance(PhaseCastReady, start); err != nil {
		return nil, err
	}

	start = o.now()
	if err := o.advance(PhaseWriting, start); err != nil {
		return nil, err
	}

	aborted := false
	for i, plan := range outline.Chapters {
		if aborted {
			outcome, err := o.skipChapter(plan)
			report.Chapters = append(report.Chapters, outcome)
			if err != nil {
				return o.finish(report, err)
			}
			continue
		}

		outcome, title, err := o.runChapter(ctx, plan, i == len(outline.Chapters)-1)
		report.Chapters = append(report.Chapters, outcome)
		if title != "" && o.cfg.Brief.Title == "" {
			report.Title = title
		}
		if err != nil {
			// Chapters never started stay PLANNED in the report.
			for _, rest := range outline.Chapters[i+1:] {
				report.Chapters = append(report.Chapters, ChapterOutcome{ChapterID: rest.ID, Title: rest.Title, Status: ChapterPlanned})
			}
			return o.finish(report, err)
		}

		var exhausted *RevisionBudgetExhaustedError
		if errors.As(outcome.Err, &exhausted) && o.cfg.OnExhausted == PolicyAbort {
			o.logger.Warn("revision budget exhausted, aborting remaining chapters", "chapter", plan.ID)
			aborted = true
		}
	}

	if err := o.advance(PhaseAssembled, start); err != nil {
		return o.finish(report, err)
	}
	return o.finish(report, nil)
}

func (o *Orchestrator) finish(report *Report, err error) (*Report, error) {
	if err != nil {
		o.fail(err)
	}
	report.Phase = o.phase
	report.Audit = o.store.Audit()
	report.Records = o.store.Manuscript()
	if outline, ok := o.store.Outline(); ok {
		report.Outline = &outline
	}
	report.Cast = o.store.Cast()
	report.FinishedAt = o.now()

	o.logger.Info("run finished",
		"phase", report.Phase,
		"accepted", report.Accepted(),
		"rejected", report.Rejected(),
		"chapters", len(report.Chapters),
		"duration", report.Duration())
	return report, err
}

func (o *Orchestrator) advance(to RunPhase, since time.Time) error {
	from := o.phase
	next, err := advanceRun(from, to)
	if err != nil {
		return err
	}
	o.metrics.phase(from, o.now().Sub(since))
	o.phase = next
	o.logger.Info("phase transition", "from", from, "to", to)
	return nil
}

func (o *Orchestrator) fail(err error) {
	o.logger.Error("run failed", "phase", o.phase, "error", err)
	o.phase = PhaseFailed
}

// =============================================================================
// Agent invocation
// =============================================================================

// invoke calls an agent under the per-call timeout and classifies any
// failure. Cancellation of ctx is returned as ctx.Err().
func (o *Orchestrator) invoke(ctx context.Context, role narrative.Role, view View) (Result, error) {
	agent := o.agents[role]
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	start := o.now()
	res, err := agent.Produce(callCtx, view)
	elapsed := o.now().Sub(start)

	if err == nil {
		o.metrics.agentCall(role, "ok", elapsed)
		return res, nil
	}
	if ctx.Err() != nil {
		o.metrics.agentCall(role, "cancelled", elapsed)
		return Result{}, ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, o.cfg.CallTimeout, err)
	}

	kind := Classify(err)
	o.metrics.agentCall(role, string(kind), elapsed)
	o.logger.Warn("agent failed",
		"role", role,
		"chapter", view.Chapter,
		"kind", kind,
		"error", err)
	return Result{}, &AgentGenerationError{Role: role, ChapterID: view.Chapter, Kind: kind, Cause: err}
}

// retryable reports whether a chapter step may spend a revision on err.
// Failures caused by the run's own context never are.
func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && IsTransient(err)
}

func (o *Orchestrator) view(role narrative.Role, chapter int, feedback []narrative.Annotation, revision int) View {
	return View{
		Snapshot: o.store.Get(Contracts[role].Scope(chapter)),
		Brief:    o.cfg.Brief,
		Feedback: feedback,
		Revision: revision,
	}
}

// =============================================================================
// Planning
// =============================================================================

func (o *Orchestrator) retry() retryPolicy {
	return retryPolicy{attempts: o.cfg.PlanningAttempts, base: o.cfg.RetryBackoff, logger: o.logger}
}

func (o *Orchestrator) planPlot(ctx context.Context) (narrative.PlotOutline, error) {
	role := narrative.RolePlotArchitect
	var outline *narrative.PlotOutline

	err := o.retry().do(ctx, string(role), func(int) error {
		res, err := o.invoke(ctx, role, o.view(role, 0, nil, 0))
		if err != nil {
			return err
		}
		if res.Outline == nil {
			return fmt.Errorf("%w: no outline", ErrMalformedOutput)
		}
		if n := len(res.Outline.Chapters); o.cfg.Chapters > 0 && n > 0 && n != o.cfg.Chapters {
			return fmt.Errorf("%w: outline has %d chapters, want %d", ErrMalformedOutput, n, o.cfg.Chapters)
		}
		outline = res.Outline
		return nil
	}, IsTransient)
	if err == nil {
		err = coherent(outline)
	}
	if err != nil {
		if ctx.Err() != nil {
			return narrative.PlotOutline{}, ctx.Err()
		}
		return narrative.PlotOutline{}, &FatalPlanningError{Role: role, Cause: err}
	}

	if _, err := o.store.Apply(narrative.Patch{Kind: narrative.PatchOutline, Agent: role, Outline: outline}); err != nil {
		return narrative.PlotOutline{}, &FatalPlanningError{Role: role, Cause: err}
	}
	o.logger.Info("outline ready", "title", outline.Title, "chapters", len(outline.Chapters))
	stored, _ := o.store.Outline()
	return stored, nil
}

// coherent rejects an outline that plans nothing or has a chapter without
// beats, whatever the agent reported.
func coherent(outline *narrative.PlotOutline) error {
	if len(outline.Chapters) == 0 {
		return fmt.Errorf("%w: outline has no chapters", ErrIncoherentPlot)
	}
	for _, ch := range outline.Chapters {
		if len(ch.Beats) == 0 {
			return fmt.Errorf("%w: chapter %d has no beats", ErrIncoherentPlot, ch.ID)
		}
	}
	return nil
}

func (o *Orchestrator) planCast(ctx context.Context) error {
	role := narrative.RoleCharacterDesigner
	var (
		cast     []narrative.CharacterProfile
		feedback []narrative.Annotation
	)

	err := o.retry().do(ctx, string(role), func(attempt int) error {
		res, err := o.invoke(ctx, role, o.view(role, 0, feedback, attempt))
		if err == nil && !slices.ContainsFunc(res.Cast, narrative.CharacterProfile.IsProtagonist) {
			err = ErrInsufficientCast
		}
		if errors.Is(err, ErrInsufficientCast) {
			feedback = append(feedback, narrative.Annotation{
				ID:          uuid.New().String(),
				Source:      narrative.RoleOrchestrator,
				Severity:    narrative.SeverityBlocking,
				Description: "The cast must include at least one character whose role is protagonist.",
			})
			return err
		}
		if err != nil {
			return err
		}
		cast = res.Cast
		return nil
	}, func(err error) bool {
		return errors.Is(err, ErrInsufficientCast) || IsTransient(err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FatalPlanningError{Role: role, Cause: err}
	}

	if _, err := o.store.Apply(narrative.Patch{Kind: narrative.PatchCast, Agent: role, Cast: cast}); err != nil {
		return &FatalPlanningError{Role: role, Cause: err}
	}
	o.logger.Info("cast ready", "characters", len(cast))
	return nil
}

// =============================================================================
// Chapter loop
// =============================================================================

type chapterStep int

const (
	stepDraft chapterStep = iota
	stepReview
	stepGate
)

// chapterRun carries the mutable state of one chapter through its loop.
type chapterRun struct {
	plan     narrative.ChapterPlan
	machine  *chapterMachine
	counter  int
	feedback []narrative.Annotation
	barrier  *reviewBarrier
	last     bool
	title    string
	started  time.Time
}

func (o *Orchestrator) reviewers() []narrative.Role {
	var out []narrative.Role
	for _, r := range o.cfg.Enabled {
		if Contracts[r].Stage == StageReviewing {
			out = append(out, r)
		}
	}
	return out
}

// runChapter drives one chapter to a terminal state. The returned error is
// non-nil only for run-terminating conditions.
func (o *Orchestrator) runChapter(ctx context.Context, plan narrative.ChapterPlan, last bool) (ChapterOutcome, string, error) {
	cr := &chapterRun{
		plan:    plan,
		machine: newChapterMachine(plan.ID),
		last:    last,
		started: o.now(),
	}
	log := o.logger.With("chapter", plan.ID)
	log.Info("chapter started", "title", plan.Title)

	step := stepDraft
	for {
		if err := ctx.Err(); err != nil {
			log.Error("chapter interrupted", "state", cr.machine.state, "error", err)
			return o.outcome(cr, err), cr.title, err
		}
		var (
			next chapterStep
			done bool
			err  error
		)
		switch step {
		case stepDraft:
			next, done, err = o.draft(ctx, cr)
		case stepReview:
			next, done, err = o.review(ctx, cr)
		case stepGate:
			next, done, err = o.gate(ctx, cr)
		}
		if err != nil {
			var agentErr *AgentGenerationError
			var exhausted *RevisionBudgetExhaustedError
			switch {
			case errors.As(err, &exhausted):
				return o.reject(cr, err)
			case errors.As(err, &agentErr) && !agentErr.Transient():
				return o.reject(cr, err)
			default:
				log.Error("chapter interrupted", "state", cr.machine.state, "error", err)
				return o.outcome(cr, err), cr.title, err
			}
		}
		if done {
			outcome := o.outcome(cr, nil)
			o.metrics.chapter(outcome.Status)
			log.Info("chapter accepted", "revisions", cr.counter, "duration", outcome.Duration)
			o.persist(ctx, plan.ID)
			return outcome, cr.title, nil
		}
		step = next
	}
}

// persist hands an accepted chapter to the sink. A failed save is logged;
// the chapter stays accepted and is written again with the full output.
func (o *Orchestrator) persist(ctx context.Context, id int) {
	if o.sink == nil {
		return
	}
	for _, rec := range o.store.Manuscript() {
		if rec.ChapterID != id {
			continue
		}
		if err := o.sink.SaveChapter(ctx, o.runID, rec); err != nil {
			o.logger.Warn("saving accepted chapter failed", "chapter", id, "error", err)
		}
		return
	}
}

// spend charges one revision to the chapter, or reports exhaustion.
func (o *Orchestrator) spend(cr *chapterRun, cause error) error {
	if cr.counter >= o.cfg.MaxRevisions {
		return &RevisionBudgetExhaustedError{ChapterID: cr.plan.ID, Revisions: cr.counter, Last: cause}
	}
	cr.counter++
	o.metrics.revision()
	if err := cr.machine.to(ChapterRevising); err != nil {
		return err
	}
	o.logger.Info("chapter revising", "chapter", cr.plan.ID, "revision", cr.counter, "cause", cause)
	return nil
}

func (o *Orchestrator) draft(ctx context.Context, cr *chapterRun) (chapterStep, bool, error) {
	id := cr.plan.ID
	if err := cr.machine.to(ChapterDrafting); err != nil {
		return 0, false, err
	}
	res, err := o.invoke(ctx, narrative.RoleWriter, o.view(narrative.RoleWriter, id, cr.feedback, cr.counter))
	if err != nil {
		if retryable(ctx, err) {
			if err := o.spend(cr, err); err != nil {
				return 0, false, err
			}
			return stepDraft, false, nil
		}
		return 0, false, err
	}

	_, err = o.store.Apply(narrative.Patch{
		Kind:      narrative.PatchDraft,
		Agent:     narrative.RoleWriter,
		ChapterID: id,
		Draft: &narrative.ChapterDraft{
			ChapterID:  id,
			Segments:   res.Segments,
			Characters: res.Characters,
			Revision:   cr.counter,
		},
	})
	if err != nil {
		return 0, false, err
	}
	cr.barrier = newReviewBarrier(o.reviewers())
	return stepReview, false, nil
}

func (o *Orchestrator) review(ctx context.Context, cr *chapterRun) (chapterStep, bool, error) {
	id := cr.plan.ID
	if err := cr.machine.to(ChapterReviewing); err != nil {
		return 0, false, err
	}

	// Every reviewer reads the same revision; nothing is applied until all
	// of them are done.
	cr.barrier.run(ctx, func(ctx context.Context, role narrative.Role) (Result, error) {
		return o.invoke(ctx, role, o.view(role, id, nil, cr.counter))
	})
	if err := cr.barrier.failure(); err != nil {
		if retryable(ctx, err) {
			if err := o.spend(cr, err); err != nil {
				return 0, false, err
			}
			return stepReview, false, nil
		}
		return 0, false, err
	}

	draft, _ := o.store.Draft(id)
	var proposals []narrative.Proposal
	for _, slot := range cr.barrier.results(o.cfg) {
		if err := o.applyAnnotations(slot.role, id, slot.result.Annotations); err != nil {
			return 0, false, err
		}
		if slot.result.Amendment != nil {
			if err := o.applyAmendment(slot.role, id, *slot.result.Amendment); err != nil {
				return 0, false, err
			}
		}
		for _, p := range slot.result.Proposals {
			p.Source = slot.role
			p.ChapterID = id
			proposals = append(proposals, p)
		}
	}

	if len(proposals) > 0 {
		merged := mergeProposals(draft.Segments, proposals, o.cfg)
		if len(merged.Segments) == 0 {
			merged = mergeOutcome{Segments: draft.Segments, Discarded: proposals}
		}
		o.metrics.proposalsMerged(merged)
		if len(merged.Applied) > 0 {
			if _, err := o.store.Apply(narrative.Patch{
				Kind:      narrative.PatchRewrite,
				Agent:     narrative.RoleOrchestrator,
				ChapterID: id,
				Segments:  merged.Segments,
			}); err != nil {
				return 0, false, err
			}
		}
		o.logger.Debug("proposals merged",
			"chapter", id,
			"applied", len(merged.Applied),
			"discarded", len(merged.Discarded))
	}

	if _, err := o.store.Apply(narrative.Patch{
		Kind:      narrative.PatchStatus,
		Agent:     narrative.RoleOrchestrator,
		ChapterID: id,
		Status:    narrative.StatusReviewed,
	}); err != nil {
		return 0, false, err
	}
	return stepGate, false, nil
}

func (o *Orchestrator) gate(ctx context.Context, cr *chapterRun) (chapterStep, bool, error) {
	id := cr.plan.ID
	role := narrative.RoleQualityAnalyst
	if cr.machine.state != ChapterReviewing {
		if err := cr.machine.to(ChapterReviewing); err != nil {
			return 0, false, err
		}
	}

	res, err := o.invoke(ctx, role, o.view(role, id, nil, cr.counter))
	if err != nil {
		if retryable(ctx, err) {
			if err := o.spend(cr, err); err != nil {
				return 0, false, err
			}
			return stepGate, false, nil
		}
		return 0, false, err
	}
	if err := o.applyAnnotations(role, id, res.Annotations); err != nil {
		return 0, false, err
	}

	var blocking []narrative.Annotation
	for _, a := range o.store.Annotations(id) {
		if a.Blocking() {
			blocking = append(blocking, a)
		}
	}

	verdict := res.Verdict
	if len(blocking) > 0 {
		verdict = VerdictReject
	}
	o.logger.Info("quality verdict",
		"chapter", id,
		"revision", cr.counter,
		"verdict", verdict,
		"blocking", len(blocking))

	if verdict == VerdictAccept {
		if _, err := o.store.Apply(narrative.Patch{
			Kind:      narrative.PatchStatus,
			Agent:     role,
			ChapterID: id,
			Status:    narrative.StatusAccepted,
		}); err != nil {
			return 0, false, err
		}
		if err := cr.machine.to(ChapterAccepted); err != nil {
			return 0, false, err
		}
		if cr.last {
			cr.title = res.Title
		}
		return 0, true, nil
	}

	cr.feedback = blocking
	if len(cr.feedback) == 0 {
		cr.feedback = o.store.Get(narrative.Scope{Fields: narrative.FieldAnnotations, Chapter: id}).Annotations
	}
	rejected := fmt.Errorf("quality analyst rejected revision %d with %d blocking annotations", cr.counter, len(blocking))
	if err := o.spend(cr, rejected); err != nil {
		return 0, false, err
	}
	return stepDraft, false, nil
}

func (o *Orchestrator) applyAnnotations(role narrative.Role, chapter int, in []narrative.Annotation) error {
	if len(in) == 0 {
		return nil
	}
	out := make([]narrative.Annotation, 0, len(in))
	for _, a := range in {
		a.ID = uuid.New().String()
		a.Source = role
		a.ChapterID = chapter
		if a.Severity != narrative.SeverityBlocking {
			a.Severity = narrative.SeverityAdvisory
		}
		out = append(out, a)
	}
	_, err := o.store.Apply(narrative.Patch{
		Kind:        narrative.PatchAnnotations,
		Agent:       role,
		ChapterID:   chapter,
		Annotations: out,
	})
	return err
}

// applyAmendment applies an outline change for the current or a later
// chapter. Requests against finished or unknown chapters are dropped.
func (o *Orchestrator) applyAmendment(role narrative.Role, current int, a narrative.Amendment) error {
	if a.ChapterID == 0 {
		a.ChapterID = current
	}
	outline, _ := o.store.Outline()
	if _, ok := outline.Chapter(a.ChapterID); !ok || a.ChapterID < current || len(a.Beats) == 0 {
		o.logger.Debug("amendment dropped", "chapter", current, "target", a.ChapterID)
		return nil
	}
	_, err := o.store.Apply(narrative.Patch{
		Kind:      narrative.PatchAmendment,
		Agent:     role,
		ChapterID: a.ChapterID,
		Amendment: &a,
	})
	if err == nil {
		o.logger.Info("outline amended", "chapter", a.ChapterID, "reason", a.Reason)
	}
	return err
}

// reject moves a chapter to REJECTED and records why.
func (o *Orchestrator) reject(cr *chapterRun, cause error) (ChapterOutcome, string, error) {
	if _, err := o.store.Apply(narrative.Patch{
		Kind:      narrative.PatchStatus,
		Agent:     narrative.RoleOrchestrator,
		ChapterID: cr.plan.ID,
		Status:    narrative.StatusRejected,
		Reason:    cause.Error(),
	}); err != nil {
		return o.outcome(cr, err), "", err
	}
	if err := cr.machine.to(ChapterRejected); err != nil {
		return o.outcome(cr, err), "", err
	}
	outcome := o.outcome(cr, cause)
	o.metrics.chapter(outcome.Status)
	o.logger.Warn("chapter rejected", "chapter", cr.plan.ID, "revisions", cr.counter, "reason", cause)
	return outcome, "", nil
}

func (o *Orchestrator) skipChapter(plan narrative.ChapterPlan) (ChapterOutcome, error) {
	_, err := o.store.Apply(narrative.Patch{
		Kind:      narrative.PatchStatus,
		Agent:     narrative.RoleOrchestrator,
		ChapterID: plan.ID,
		Status:    narrative.StatusRejected,
		Reason:    ReasonRunAborted,
	})
	outcome := ChapterOutcome{
		ChapterID: plan.ID,
		Title:     plan.Title,
		Status:    ChapterRejected,
		Reason:    ReasonRunAborted,
	}
	if err != nil {
		outcome.Status = ChapterPlanned
		return outcome, err
	}
	o.metrics.chapter(ChapterRejected)
	return outcome, nil
}

func (o *Orchestrator) outcome(cr *chapterRun, err error) ChapterOutcome {
	out := ChapterOutcome{
		ChapterID:           cr.plan.ID,
		Title:               cr.plan.Title,
		Status:              cr.machine.state,
		Revisions:           cr.counter,
		RevisingTransitions: cr.machine.revising,
		Err:                 err,
		Duration:            o.now().Sub(cr.started),
	}
	if err != nil {
		out.Reason = err.Error()
	}
	return out
}
