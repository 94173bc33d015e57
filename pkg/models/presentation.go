// Package models provides domain types for the deckstore presentation store.
package models

import (
	"time"
)

// Presentation is the top-level persisted document: an ordered sequence of
// slides plus presentation-wide metadata.
type Presentation struct {
	// ID is an opaque stable identifier assigned at creation and never reused.
	ID string `json:"id"`

	// Title is the human-facing presentation title.
	Title string `json:"title"`

	// Slides is the ordered slide sequence.
	Slides []Slide `json:"slides"`

	// Revision increments on every persisted save. A save whose revision does
	// not match the stored copy is rejected as a conflict.
	Revision int64 `json:"revision"`

	// ThemeConfig holds presentation-wide theme settings. Opaque to storage.
	ThemeConfig map[string]any `json:"theme_config,omitempty"`

	// DerivativeElements holds footer/logo templates applied to every slide.
	// Opaque to storage.
	DerivativeElements map[string]any `json:"derivative_elements,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slide is one ordered unit within a presentation. It owns zero or more typed
// child elements, grouped per kind.
type Slide struct {
	// SlideID is generated once and never changes. Legacy slides created
	// before this identifier existed carry an empty SlideID until reconciled.
	SlideID string `json:"slide_id,omitempty"`

	// Layout selects a rendering template. Opaque to storage.
	Layout string `json:"layout,omitempty"`

	// Content is an open key->value map whose semantics belong to the
	// rendering layer, not to storage.
	Content map[string]any `json:"content,omitempty"`

	TextBoxes     []Element `json:"text_boxes,omitempty"`
	Images        []Element `json:"images,omitempty"`
	Charts        []Element `json:"charts,omitempty"`
	Diagrams      []Element `json:"diagrams,omitempty"`
	Infographics  []Element `json:"infographics,omitempty"`
	ContentBlocks []Element `json:"content_blocks,omitempty"`
}

// Element is a typed child of a slide. It references its owning slide by id;
// an empty ParentSlideID marks legacy data that has not been reconciled yet.
type Element struct {
	ID            string         `json:"id"`
	ParentSlideID string         `json:"parent_slide_id,omitempty"`
	SlotName      string         `json:"slot_name,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	Props         map[string]any `json:"props,omitempty"`
}

// Version is an immutable capture of a presentation's state prior to a
// mutation. Versions form a strictly append-only, totally ordered sequence
// per presentation.
type Version struct {
	// VersionID is a sortable timestamp token plus a short random suffix, so
	// lexicographic order matches chronological order.
	VersionID      string        `json:"version_id"`
	PresentationID string        `json:"presentation_id"`
	CreatedAt      time.Time     `json:"created_at"`
	CreatedBy      string        `json:"created_by,omitempty"`
	ChangeSummary  string        `json:"change_summary,omitempty"`
	Snapshot       *Presentation `json:"snapshot"`
}

// PresentationSummary is the listing view of a presentation.
type PresentationSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	SlideCount int       `json:"slide_count"`
}

// VersionSummary is the listing view of a version, without its snapshot.
type VersionSummary struct {
	VersionID     string    `json:"version_id"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
	ChangeSummary string    `json:"change_summary,omitempty"`
}

// Summary builds the listing view for a presentation.
func (p *Presentation) Summary() PresentationSummary {
	return PresentationSummary{
		ID:         p.ID,
		Title:      p.Title,
		CreatedAt:  p.CreatedAt,
		SlideCount: len(p.Slides),
	}
}

// Summary builds the listing view for a version.
func (v *Version) Summary() VersionSummary {
	return VersionSummary{
		VersionID:     v.VersionID,
		CreatedAt:     v.CreatedAt,
		CreatedBy:     v.CreatedBy,
		ChangeSummary: v.ChangeSummary,
	}
}

// SlideIDs returns the set of non-empty slide ids in the presentation.
func (p *Presentation) SlideIDs() map[string]bool {
	ids := make(map[string]bool, len(p.Slides))
	for i := range p.Slides {
		if p.Slides[i].SlideID != "" {
			ids[p.Slides[i].SlideID] = true
		}
	}
	return ids
}

// ElementCollections returns pointers to every typed element collection of
// the slide, so callers can walk or rewrite all of them uniformly.
func (s *Slide) ElementCollections() []*[]Element {
	return []*[]Element{
		&s.TextBoxes,
		&s.Images,
		&s.Charts,
		&s.Diagrams,
		&s.Infographics,
		&s.ContentBlocks,
	}
}

// Clone returns a deep copy of the presentation. Stores hand out clones so
// callers can never mutate shared state.
func (p *Presentation) Clone() *Presentation {
	if p == nil {
		return nil
	}
	out := *p
	out.ThemeConfig = cloneMap(p.ThemeConfig)
	out.DerivativeElements = cloneMap(p.DerivativeElements)
	if p.Slides != nil {
		out.Slides = make([]Slide, len(p.Slides))
		for i := range p.Slides {
			out.Slides[i] = *p.Slides[i].Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the slide.
func (s *Slide) Clone() *Slide {
	if s == nil {
		return nil
	}
	out := *s
	out.Content = cloneMap(s.Content)
	out.TextBoxes = cloneElements(s.TextBoxes)
	out.Images = cloneElements(s.Images)
	out.Charts = cloneElements(s.Charts)
	out.Diagrams = cloneElements(s.Diagrams)
	out.Infographics = cloneElements(s.Infographics)
	out.ContentBlocks = cloneElements(s.ContentBlocks)
	return &out
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := *e
	out.Props = cloneMap(e.Props)
	return &out
}

// Clone returns a deep copy of the version, including its snapshot.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	out := *v
	out.Snapshot = v.Snapshot.Clone()
	return &out
}

func cloneElements(els []Element) []Element {
	if els == nil {
		return nil
	}
	out := make([]Element, len(els))
	for i := range els {
		out[i] = *els[i].Clone()
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		// Scalars (and anything JSON-decoded that is not a map or slice) are
		// immutable from the caller's perspective.
		return val
	}
}
