package narrative

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// AuditRecord is appended for every patch that changed state.
type AuditRecord struct {
	Seq       uint64    `json:"seq"`
	Agent     Role      `json:"agent"`
	ChapterID int       `json:"chapter_id"`
	Kind      PatchKind `json:"kind"`
	At        time.Time `json:"at"`
}

// Store is the single source of truth for a run. It is safe for concurrent
// use; the lock is only held for the duration of Get and Apply.
type Store struct {
	mu           sync.RWMutex
	state        *State
	audit        []AuditRecord
	seq          uint64
	chapters     int
	maxRevisions int
	logger       *slog.Logger
	now          func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for audit debugging.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger.With("component", "narrative_store")
	}
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store for a run of the given chapter count and
// per-chapter revision bound.
func NewStore(chapters, maxRevisions int, opts ...StoreOption) *Store {
	s := &Store{
		state:        &State{Drafts: make(map[int]*ChapterDraft)},
		chapters:     chapters,
		maxRevisions: maxRevisions,
		logger:       slog.Default().With("component", "narrative_store"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a deep copy of the fields scope allows.
func (s *Store) Get(scope Scope) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Chapter: scope.Chapter, Seq: s.seq}
	st := s.state

	if scope.Fields.Has(FieldOutline) && st.Outline != nil {
		o := cloneOutline(*st.Outline)
		snap.Outline = &o
	}
	if scope.Fields.Has(FieldChapterPlan) {
		if plan, ok := st.Outline.Chapter(scope.Chapter); ok {
			p := clonePlan(plan)
			snap.Plan = &p
		}
	}
	if scope.Fields.Has(FieldCast) {
		snap.Cast = cloneCast(st.Cast)
	}
	if scope.Fields.Has(FieldPriorChapters) {
		for id := 1; id < scope.Chapter; id++ {
			if d, ok := st.Drafts[id]; ok && d.Status == StatusAccepted {
				snap.Prior = append(snap.Prior, cloneDraft(*d))
			}
		}
	}
	if scope.Fields.Has(FieldDraft) {
		if d, ok := st.Drafts[scope.Chapter]; ok {
			c := cloneDraft(*d)
			snap.Draft = &c
		}
	}
	if scope.Fields.Has(FieldAnnotations) {
		for _, a := range st.Annotations {
			if a.ChapterID == scope.Chapter && !a.Resolved {
				snap.Annotations = append(snap.Annotations, a)
			}
		}
	}
	return snap
}

// Apply merges a patch into the canonical state. The patch is applied to a
// copy first; on validation failure nothing changes. A patch that leaves the
// state unchanged returns false and is not audited.
func (s *Store) Apply(p Patch) (bool, error) {
	if !CanWrite(p.Agent, p.Kind) {
		return false, reject(p, "%s may not write %s", p.Agent, p.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := s.applyTo(next, p); err != nil {
		s.logger.Debug("patch rejected",
			"kind", p.Kind,
			"agent", p.Agent,
			"chapter", p.ChapterID,
			"error", err)
		return false, err
	}

	if cmp.Equal(s.state, next, cmpopts.EquateEmpty()) {
		return false, nil
	}

	s.state = next
	s.seq++
	s.audit = append(s.audit, AuditRecord{
		Seq:       s.seq,
		Agent:     p.Agent,
		ChapterID: p.ChapterID,
		Kind:      p.Kind,
		At:        s.now(),
	})
	s.logger.Debug("patch applied",
		"seq", s.seq,
		"kind", p.Kind,
		"agent", p.Agent,
		"chapter", p.ChapterID)
	return true, nil
}

func (s *Store) applyTo(st *State, p Patch) error {
	switch p.Kind {
	case PatchOutline:
		return s.applyOutline(st, p)
	case PatchAmendment:
		return s.applyAmendment(st, p)
	case PatchCast:
		return s.applyCast(st, p)
	case PatchDraft:
		return s.applyDraft(st, p)
	case PatchAnnotations:
		return s.applyAnnotations(st, p)
	case PatchRewrite:
		return s.applyRewrite(st, p)
	case PatchStatus:
		return s.applyStatus(st, p)
	default:
		return reject(p, "unknown patch kind")
	}
}

func (s *Store) applyOutline(st *State, p Patch) error {
	if p.Outline == nil {
		return reject(p, "outline is nil")
	}
	if len(p.Outline.Chapters) != s.chapters {
		return reject(p, "outline has %d chapters, run is configured for %d", len(p.Outline.Chapters), s.chapters)
	}
	for i, ch := range p.Outline.Chapters {
		if ch.ID != i+1 {
			return reject(p, "outline chapter %d has id %d", i+1, ch.ID)
		}
	}
	o := cloneOutline(*p.Outline)
	if st.Outline != nil {
		if cmp.Equal(*st.Outline, o, cmpopts.EquateEmpty()) {
			return nil
		}
		return reject(p, "outline already exists")
	}
	st.Outline = &o
	return nil
}

func (s *Store) applyAmendment(st *State, p Patch) error {
	a := p.Amendment
	if a == nil {
		return reject(p, "amendment is nil")
	}
	if st.Outline == nil {
		return reject(p, "no outline to amend")
	}
	if len(a.Beats) == 0 {
		return reject(p, "amendment for chapter %d has no beats", a.ChapterID)
	}
	if d, ok := st.Drafts[a.ChapterID]; ok && d.Status.Terminal() {
		return reject(p, "chapter %d is already %s", a.ChapterID, d.Status)
	}
	for i := range st.Outline.Chapters {
		ch := &st.Outline.Chapters[i]
		if ch.ID != a.ChapterID {
			continue
		}
		if a.Synopsis != "" {
			ch.Synopsis = a.Synopsis
		}
		ch.Beats = slices.Clone(a.Beats)
		return nil
	}
	return reject(p, "chapter %d not in outline", a.ChapterID)
}

func (s *Store) applyCast(st *State, p Patch) error {
	if st.Outline == nil {
		return reject(p, "cast requires an outline")
	}
	if len(p.Cast) == 0 {
		return reject(p, "cast is empty")
	}
	ids := make(map[string]bool, len(p.Cast))
	for _, c := range p.Cast {
		if c.ID == "" {
			return reject(p, "character %q has no id", c.Name)
		}
		if ids[c.ID] {
			return reject(p, "duplicate character id %q", c.ID)
		}
		ids[c.ID] = true
	}
	for _, c := range p.Cast {
		for _, rel := range c.Relationships {
			if !ids[rel.Target] {
				return reject(p, "character %q relates to unknown character %q", c.ID, rel.Target)
			}
		}
	}
	cast := cloneCast(p.Cast)
	if st.Cast != nil {
		if cmp.Equal(st.Cast, cast, cmpopts.EquateEmpty()) {
			return nil
		}
		return reject(p, "cast already exists")
	}
	st.Cast = cast
	return nil
}

func (s *Store) applyDraft(st *State, p Patch) error {
	d := p.Draft
	if d == nil {
		return reject(p, "draft is nil")
	}
	if d.ChapterID != p.ChapterID {
		return reject(p, "draft targets chapter %d", d.ChapterID)
	}
	if _, ok := st.Outline.Chapter(p.ChapterID); !ok {
		return reject(p, "chapter not in outline")
	}
	if st.Cast == nil {
		return reject(p, "drafting requires a cast")
	}
	if len(d.Segments) == 0 {
		return reject(p, "draft has no segments")
	}
	for _, id := range d.Characters {
		if !hasCharacter(st.Cast, id) {
			return reject(p, "draft references character %q absent from the cast", id)
		}
	}
	if p.ChapterID > 1 {
		prev, ok := st.Drafts[p.ChapterID-1]
		if !ok || !prev.Status.Terminal() {
			return reject(p, "chapter %d is not finished", p.ChapterID-1)
		}
	}
	if d.Revision < 0 || d.Revision > s.maxRevisions {
		return reject(p, "revision %d outside [0, %d]", d.Revision, s.maxRevisions)
	}
	if cur, ok := st.Drafts[p.ChapterID]; ok {
		if sameDraft(*cur, *d) {
			return nil
		}
		if cur.Status.Terminal() {
			return reject(p, "chapter is already %s", cur.Status)
		}
		if d.Revision < cur.Revision {
			return reject(p, "revision %d is older than stored revision %d", d.Revision, cur.Revision)
		}
	}

	draft := cloneDraft(*d)
	draft.Status = StatusDrafted
	draft.Reason = ""
	st.Drafts[p.ChapterID] = &draft

	// A new revision supersedes findings against earlier ones.
	for i := range st.Annotations {
		a := &st.Annotations[i]
		if a.ChapterID == p.ChapterID && a.Revision < draft.Revision {
			a.Resolved = true
		}
	}
	return nil
}

func (s *Store) applyAnnotations(st *State, p Patch) error {
	d, ok := st.Drafts[p.ChapterID]
	if !ok {
		return reject(p, "no draft to annotate")
	}
	known := func(a Annotation) bool {
		return slices.ContainsFunc(st.Annotations, func(b Annotation) bool { return b.ID == a.ID })
	}
	if len(p.Annotations) > 0 && !slices.ContainsFunc(p.Annotations, func(a Annotation) bool { return !known(a) }) {
		return nil
	}
	if d.Status.Terminal() {
		return reject(p, "chapter is already %s", d.Status)
	}
	for _, a := range p.Annotations {
		if a.ID == "" {
			return reject(p, "annotation has no id")
		}
		if a.ChapterID != p.ChapterID {
			return reject(p, "annotation %s targets chapter %d", a.ID, a.ChapterID)
		}
		if a.Severity != SeverityBlocking && a.Severity != SeverityAdvisory {
			return reject(p, "annotation %s has severity %q", a.ID, a.Severity)
		}
		if known(a) {
			continue
		}
		a.Revision = d.Revision
		a.Resolved = false
		st.Annotations = append(st.Annotations, a)
	}
	return nil
}

func (s *Store) applyRewrite(st *State, p Patch) error {
	d, ok := st.Drafts[p.ChapterID]
	if !ok {
		return reject(p, "no draft to rewrite")
	}
	if slices.Equal(d.Segments, p.Segments) {
		return nil
	}
	if d.Status.Terminal() {
		return reject(p, "chapter is already %s", d.Status)
	}
	if len(p.Segments) == 0 {
		return reject(p, "rewrite has no segments")
	}
	d.Segments = slices.Clone(p.Segments)
	return nil
}

var transitions = map[Status][]Status{
	"":             {StatusRejected},
	StatusDrafted:  {StatusReviewed, StatusRejected},
	StatusReviewed: {StatusAccepted, StatusRejected},
}

func (s *Store) applyStatus(st *State, p Patch) error {
	d, ok := st.Drafts[p.ChapterID]
	var from Status
	if ok {
		from = d.Status
	}
	if from == p.Status {
		return nil
	}
	if !slices.Contains(transitions[from], p.Status) {
		return reject(p, "cannot move from %q to %q", from, p.Status)
	}
	if p.Status == StatusAccepted {
		for _, a := range st.Annotations {
			if a.ChapterID == p.ChapterID && a.Blocking() {
				return reject(p, "blocking annotation %s is unresolved", a.ID)
			}
		}
	}
	if !ok {
		if _, planned := st.Outline.Chapter(p.ChapterID); !planned {
			return reject(p, "chapter not in outline")
		}
		d = &ChapterDraft{ChapterID: p.ChapterID}
		st.Drafts[p.ChapterID] = d
	}
	d.Status = p.Status
	d.Reason = p.Reason
	return nil
}

func sameDraft(a, b ChapterDraft) bool {
	return a.Revision == b.Revision &&
		slices.Equal(a.Segments, b.Segments) &&
		slices.Equal(a.Characters, b.Characters)
}

func hasCharacter(cast []CharacterProfile, id string) bool {
	return slices.ContainsFunc(cast, func(c CharacterProfile) bool { return c.ID == id })
}

// Audit returns a copy of the audit log.
func (s *Store) Audit() []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}

// Draft returns a copy of the stored draft for a chapter.
func (s *Store) Draft(id int) (ChapterDraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.Drafts[id]
	if !ok {
		return ChapterDraft{}, false
	}
	return cloneDraft(*d), true
}

// Outline returns a copy of the outline, if one has been applied.
func (s *Store) Outline() (PlotOutline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Outline == nil {
		return PlotOutline{}, false
	}
	return cloneOutline(*s.state.Outline), true
}

// Cast returns a copy of the cast.
func (s *Store) Cast() []CharacterProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCast(s.state.Cast)
}

// Annotations returns every annotation recorded against a chapter,
// resolved ones included.
func (s *Store) Annotations(chapter int) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Annotation
	for _, a := range s.state.Annotations {
		if a.ChapterID == chapter {
			out = append(out, a)
		}
	}
	return out
}

// Manuscript assembles one record per planned chapter. Only accepted
// chapters carry text.
func (s *Store) Manuscript() []ChapterRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Outline == nil {
		return nil
	}
	records := make([]ChapterRecord, 0, len(s.state.Outline.Chapters))
	for _, plan := range s.state.Outline.Chapters {
		rec := ChapterRecord{
			ChapterID: plan.ID,
			Title:     plan.Title,
			Metadata:  map[string]string{"status": "PLANNED"},
		}
		if d, ok := s.state.Drafts[plan.ID]; ok {
			rec.Metadata["status"] = string(d.Status)
			rec.Metadata["revision"] = strconv.Itoa(d.Revision)
			rec.Metadata["segments"] = strconv.Itoa(len(d.Segments))
			if d.Reason != "" {
				rec.Metadata["reason"] = d.Reason
			}
			if d.Status == StatusAccepted {
				rec.Text = d.Text()
			}
		}
		records = append(records, rec)
	}
	return records
}

// String summarizes the store for logging.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("narrative store: seq=%d drafts=%d annotations=%d", s.seq, len(s.state.Drafts), len(s.state.Annotations))
}
