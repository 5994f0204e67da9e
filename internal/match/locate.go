// Package match implements the record-linkage core: locating candidate
// surveys for a historical rating, scoring each candidate into a
// confidence tier, and resolving the scored set to at most one winner.
package match

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/terravia-group/roadops-cli/internal/model"
	"github.com/terravia-group/roadops-cli/internal/store"
)

// CandidateWindow bounds how far a candidate survey's creation time may
// sit from the rating's timestamp. Ingestion historically wrote the
// derived rating immediately after survey completion, so a tight window
// trades recall for precision against unrelated surveys of the same
// segment.
const CandidateWindow = 5 * time.Minute

// Locator finds candidate surveys for unresolved ratings.
type Locator struct {
	surveys store.SurveyStore
}

// NewLocator creates a Locator over the given survey store.
func NewLocator(surveys store.SurveyStore) *Locator {
	return &Locator{surveys: surveys}
}

// Locate returns the surveys that could have produced the rating: same
// tenant, path covering the rating's segment, created within
// CandidateWindow of the rating, and sharing an identity signal with the
// rating's author (survey author or project creator, either suffices).
// An empty result is the normal insufficient-history case, not an error.
func (l *Locator) Locate(ctx context.Context, rating model.Rating) ([]model.Survey, error) {
	candidates, err := l.surveys.FindCandidates(ctx,
		rating.TenantID, rating.RoadSegmentID, rating.CreatedAt, CandidateWindow)
	if err != nil {
		return nil, eris.Wrapf(err, "match: candidates for rating %s", rating.ID)
	}

	// Project creators are looked up once per project, not per survey.
	creators := make(map[string]string)

	var out []model.Survey
	for _, sv := range candidates {
		// The store pre-filters; membership and window are re-checked so
		// correctness never depends on a particular store implementation.
		if !sv.CoversSegment(rating.RoadSegmentID) {
			continue
		}
		if absDuration(sv.CreatedAt.Sub(rating.CreatedAt)) > CandidateWindow {
			continue
		}

		if sv.AuthorID == rating.AuthorID {
			out = append(out, sv)
			continue
		}

		creator, ok := creators[sv.ProjectID]
		if !ok {
			creator, err = l.surveys.ProjectCreator(ctx, sv.ProjectID)
			if err != nil {
				return nil, eris.Wrapf(err, "match: project creator for survey %s", sv.ID)
			}
			creators[sv.ProjectID] = creator
		}
		if creator == rating.AuthorID {
			out = append(out, sv)
		}
	}
	return out, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
