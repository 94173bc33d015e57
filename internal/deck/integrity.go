package deck

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/deckstore/pkg/models"
)

// IsElementValid reports whether an element's parent reference is consistent
// with the given slide id set. An empty ParentSlideID is legacy data that has
// not been reconciled yet and is considered valid.
func IsElementValid(el *models.Element, knownSlideIDs map[string]bool) bool {
	if el == nil {
		return false
	}
	if el.ParentSlideID == "" {
		return true
	}
	return knownSlideIDs[el.ParentSlideID]
}

// CleanupOrphans reconciles legacy slides and removes orphaned elements.
//
// Slides lacking a SlideID are assigned a fresh stable id; elements of such a
// slide with an empty ParentSlideID are adopted by it. Afterwards every
// element whose non-empty ParentSlideID matches no slide id in the document
// is removed. Returns the cleaned copy and the removed element ids. Running
// it twice on its own output removes nothing further.
func CleanupOrphans(p *models.Presentation) (*models.Presentation, []string) {
	cleaned := p.Clone()
	removed := []string{}

	for i := range cleaned.Slides {
		slide := &cleaned.Slides[i]
		if slide.SlideID != "" {
			continue
		}
		slide.SlideID = uuid.NewString()
		for _, coll := range slide.ElementCollections() {
			for j := range *coll {
				if (*coll)[j].ParentSlideID == "" {
					(*coll)[j].ParentSlideID = slide.SlideID
				}
			}
		}
	}

	known := cleaned.SlideIDs()
	for i := range cleaned.Slides {
		for _, coll := range cleaned.Slides[i].ElementCollections() {
			kept := (*coll)[:0]
			for j := range *coll {
				el := (*coll)[j]
				if IsElementValid(&el, known) {
					kept = append(kept, el)
				} else {
					removed = append(removed, el.ID)
				}
			}
			if len(kept) == 0 && len(*coll) > 0 {
				*coll = nil
			} else {
				*coll = kept
			}
		}
	}

	return cleaned, removed
}

// CountOrphans reports how many elements reference a slide that does not
// exist. Readers tolerate orphans; this is used for observability only.
func CountOrphans(p *models.Presentation) int {
	known := p.SlideIDs()
	count := 0
	for i := range p.Slides {
		for _, coll := range p.Slides[i].ElementCollections() {
			for j := range *coll {
				if !IsElementValid(&(*coll)[j], known) {
					count++
				}
			}
		}
	}
	return count
}

// presentationSchema is the structural contract enforced on create and save.
// Content maps stay open: their semantics belong to the rendering layer.
const presentationSchema = `{
	"type": "object",
	"required": ["title", "slides"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"slides": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"slide_id": {"type": "string"},
					"layout": {"type": "string"},
					"content": {"type": "object"},
					"text_boxes": {"$ref": "#/$defs/elements"},
					"images": {"$ref": "#/$defs/elements"},
					"charts": {"$ref": "#/$defs/elements"},
					"diagrams": {"$ref": "#/$defs/elements"},
					"infographics": {"$ref": "#/$defs/elements"},
					"content_blocks": {"$ref": "#/$defs/elements"}
				}
			}
		},
		"theme_config": {"type": "object"},
		"derivative_elements": {"type": "object"}
	},
	"$defs": {
		"elements": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"parent_slide_id": {"type": "string"},
					"slot_name": {"type": "string"},
					"kind": {"type": "string"},
					"props": {"type": "object"}
				}
			}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// ValidateShape checks the document's structural shape. Failures are caller
// errors (ErrValidation), never infrastructure degradation.
func ValidateShape(p *models.Presentation) error {
	if p == nil {
		return fmt.Errorf("%w: presentation is nil", ErrValidation)
	}

	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("presentation.schema.json", presentationSchema)
	})
	if schemaErr != nil {
		return fmt.Errorf("compile presentation schema: %w", schemaErr)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode presentation: %v", ErrValidation, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%w: decode presentation: %v", ErrValidation, err)
	}
	if err := compiledSchema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
