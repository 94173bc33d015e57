package deck

import (
	"errors"
	"testing"

	"github.com/haasonsaas/deckstore/pkg/models"
)

func TestIsElementValid(t *testing.T) {
	known := map[string]bool{"s1": true}

	tests := []struct {
		name    string
		element models.Element
		want    bool
	}{
		{"matching parent", models.Element{ID: "e1", ParentSlideID: "s1"}, true},
		{"legacy empty parent", models.Element{ID: "e2"}, true},
		{"missing parent", models.Element{ID: "e3", ParentSlideID: "s9"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsElementValid(&tt.element, known); got != tt.want {
				t.Fatalf("IsElementValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCleanupOrphans_RemovesOrphansKeepsLegacy(t *testing.T) {
	p := &models.Presentation{
		ID:    "p1",
		Title: "Q4",
		Slides: []models.Slide{
			{
				SlideID: "s1",
				TextBoxes: []models.Element{
					{ID: "keep", ParentSlideID: "s1"},
					{ID: "orphan", ParentSlideID: "s9"},
					{ID: "legacy"},
				},
				Charts: []models.Element{
					{ID: "orphan-chart", ParentSlideID: "gone"},
				},
			},
		},
	}

	cleaned, removed := CleanupOrphans(p)

	if len(removed) != 2 {
		t.Fatalf("expected 2 removed ids, got %v", removed)
	}
	removedSet := map[string]bool{}
	for _, id := range removed {
		removedSet[id] = true
	}
	if !removedSet["orphan"] || !removedSet["orphan-chart"] {
		t.Fatalf("unexpected removed set: %v", removed)
	}

	boxes := cleaned.Slides[0].TextBoxes
	if len(boxes) != 2 {
		t.Fatalf("expected 2 surviving text boxes, got %d", len(boxes))
	}
	if boxes[0].ID != "keep" || boxes[1].ID != "legacy" {
		t.Fatalf("unexpected survivors: %+v", boxes)
	}
	if cleaned.Slides[0].Charts != nil {
		t.Fatalf("expected charts collection to be emptied")
	}

	// The input document must not be modified.
	if len(p.Slides[0].TextBoxes) != 3 {
		t.Fatalf("input document was mutated")
	}
}

func TestCleanupOrphans_ReconcilesLegacySlides(t *testing.T) {
	p := &models.Presentation{
		ID:    "p1",
		Title: "Q4",
		Slides: []models.Slide{
			{
				// Legacy slide: no id yet.
				Layout: "title",
				Images: []models.Element{
					{ID: "img1"},                        // legacy element, should be adopted
					{ID: "img2", ParentSlideID: "s404"}, // orphan, should go
				},
			},
		},
	}

	cleaned, removed := CleanupOrphans(p)

	slide := cleaned.Slides[0]
	if slide.SlideID == "" {
		t.Fatalf("expected legacy slide to be assigned an id")
	}
	if len(slide.Images) != 1 {
		t.Fatalf("expected 1 surviving image, got %d", len(slide.Images))
	}
	if slide.Images[0].ParentSlideID != slide.SlideID {
		t.Fatalf("expected adopted element to point at the new slide id")
	}
	if len(removed) != 1 || removed[0] != "img2" {
		t.Fatalf("unexpected removed ids: %v", removed)
	}
}

func TestCleanupOrphans_Idempotent(t *testing.T) {
	p := &models.Presentation{
		ID:    "p1",
		Title: "Q4",
		Slides: []models.Slide{
			{
				TextBoxes: []models.Element{
					{ID: "e1"},
					{ID: "e2", ParentSlideID: "nowhere"},
				},
			},
			{
				SlideID:       "s2",
				ContentBlocks: []models.Element{{ID: "e3", ParentSlideID: "s2"}},
			},
		},
	}

	once, removedFirst := CleanupOrphans(p)
	if len(removedFirst) != 1 {
		t.Fatalf("expected 1 removal on first pass, got %v", removedFirst)
	}

	twice, removedSecond := CleanupOrphans(once)
	if len(removedSecond) != 0 {
		t.Fatalf("expected no removals on second pass, got %v", removedSecond)
	}
	if len(twice.Slides[0].TextBoxes) != len(once.Slides[0].TextBoxes) {
		t.Fatalf("second pass changed the document")
	}
}

func TestCountOrphans(t *testing.T) {
	p := &models.Presentation{
		Slides: []models.Slide{
			{
				SlideID:  "s1",
				Diagrams: []models.Element{{ID: "d1", ParentSlideID: "s9"}},
				Images:   []models.Element{{ID: "i1", ParentSlideID: "s1"}, {ID: "i2"}},
			},
		},
	}
	if got := CountOrphans(p); got != 1 {
		t.Fatalf("CountOrphans() = %d, want 1", got)
	}
}

func TestValidateShape(t *testing.T) {
	valid := &models.Presentation{
		Title:  "Q4",
		Slides: []models.Slide{{Layout: "A", Content: map[string]any{"t": "hi"}}},
	}
	if err := ValidateShape(valid); err != nil {
		t.Fatalf("ValidateShape(valid) error = %v", err)
	}

	missingTitle := &models.Presentation{Slides: []models.Slide{}}
	if err := ValidateShape(missingTitle); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing title, got %v", err)
	}

	if err := ValidateShape(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil document, got %v", err)
	}
}
