package narrative

import "strings"

// Field is a readable or writable slice of the narrative state. Agents
// declare the fields they read and write as data.
type Field uint16

const (
	FieldOutline Field = 1 << iota
	FieldChapterPlan
	FieldCast
	FieldPriorChapters
	FieldDraft
	FieldAnnotations
	FieldVerdict
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{FieldOutline, "outline"},
	{FieldChapterPlan, "chapter_plan"},
	{FieldCast, "cast"},
	{FieldPriorChapters, "prior_chapters"},
	{FieldDraft, "draft"},
	{FieldAnnotations, "annotations"},
	{FieldVerdict, "verdict"},
}

// Has reports whether every bit of g is set in f.
func (f Field) Has(g Field) bool {
	return f&g == g
}

// Each calls fn for every single field set in f.
func (f Field) Each(fn func(Field)) {
	for _, fn2 := range fieldNames {
		if f.Has(fn2.f) {
			fn(fn2.f)
		}
	}
}

func (f Field) String() string {
	var parts []string
	for _, fn := range fieldNames {
		if f.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Scope selects what Get returns. Chapter is the chapter being worked on;
// PriorChapters only ever includes chapters with a smaller ID.
type Scope struct {
	Fields  Field
	Chapter int
}

// Snapshot is a deep copy of the fields a scope allows. Mutating it has no
// effect on the store.
type Snapshot struct {
	Chapter     int
	Outline     *PlotOutline
	Plan        *ChapterPlan
	Cast        []CharacterProfile
	Prior       []ChapterDraft
	Draft       *ChapterDraft
	Annotations []Annotation
	Seq         uint64
}

// Character looks up a cast member by ID.
func (s Snapshot) Character(id string) (CharacterProfile, bool) {
	for _, c := range s.Cast {
		if c.ID == id {
			return c, true
		}
	}
	return CharacterProfile{}, false
}

// Blocking returns the unresolved blocking annotations in the snapshot.
func (s Snapshot) Blocking() []Annotation {
	var out []Annotation
	for _, a := range s.Annotations {
		if a.Blocking() {
			out = append(out, a)
		}
	}
	return out
}
