// Package classifier turns market-change events into notification drafts.
//
// The AI classifier is the preferred source; the heuristic classifier is a
// deterministic fallback that never fails. Compose them with Fallback.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"marketnotify/internal/model"
)

// Classifier produces a draft for one event.
type Classifier interface {
	Classify(ctx context.Context, event model.MarketChangeEvent, uc model.UserContext) (model.NotificationDraft, error)
}

// ErrInvalidDraft the upstream answered with something that is not a usable draft.
var ErrInvalidDraft = errors.New("invalid draft")

// ValidateDraft checks a draft against the shape every consumer relies on.
func ValidateDraft(d model.NotificationDraft) error {
	switch {
	case d.Title == "":
		return fmt.Errorf("%w: empty title", ErrInvalidDraft)
	case d.Message == "":
		return fmt.Errorf("%w: empty message", ErrInvalidDraft)
	case !d.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidDraft, d.Category)
	case !d.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidDraft, d.Priority)
	case d.ActionURL != nil && *d.ActionURL == "":
		return fmt.Errorf("%w: empty action url", ErrInvalidDraft)
	}
	return nil
}
