// Package analytics computes the closure summary: per-user counts of
// finished issues, split by difficulty tier and by on-time/delayed
// delivery. It is a read-only projection over current issue state and is
// recomputed on every call.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
)

// Aggregator summarizes closed issues for a team.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Summarize returns per-user closure rows for the team, optionally scoped
// to a project and/or a single user. An issue counts once per assignee,
// not split between them. Rows come back sorted by total closed,
// descending, with user id as a tiebreak.
func (a *Aggregator) Summarize(ctx context.Context, teamID, projectID, userID string) ([]*models.AepUserSummary, error) {
	states, err := a.store.ListWorkflowStates(ctx, teamID)
	if err != nil {
		return nil, err
	}
	var doneStateIDs []string
	for _, st := range states {
		if st.Type == models.WorkflowCompleted {
			doneStateIDs = append(doneStateIDs, st.ID)
		}
	}
	if len(doneStateIDs) == 0 {
		return nil, nil
	}

	issues, err := a.store.ListIssues(ctx, store.IssueListFilter{
		TeamID:    teamID,
		ProjectID: projectID,
		StateIDs:  doneStateIDs,
	})
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*models.AepUserSummary)
	for _, issue := range issues {
		// Issues with reviewedAt passed through review; issues without it
		// are legacy records that reached a done stage before the review
		// gate existed. Both count as closed.
		delivered := deliveredBy(issue)
		onTime, timed := classify(delivered, issue.DueDate)

		for _, assignee := range issue.Assignees {
			if userID != "" && assignee.UserID != userID {
				continue
			}
			row := rows[assignee.UserID]
			if row == nil {
				row = &models.AepUserSummary{UserID: assignee.UserID, Name: assignee.Name}
				rows[assignee.UserID] = row
			}
			switch issue.Difficulty {
			case models.DifficultySmall:
				row.SClosed++
			case models.DifficultyMedium:
				row.MClosed++
			case models.DifficultyLarge:
				row.LClosed++
			}
			row.TotalClosed++
			if timed {
				if onTime {
					row.OnTimeClosed++
				} else {
					row.DelayedClosed++
				}
			}
		}
	}

	out := make([]*models.AepUserSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalClosed != out[j].TotalClosed {
			return out[i].TotalClosed > out[j].TotalClosed
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// deliveredBy picks the timestamp that represents when the assignee
// handed the work over: the moment it entered review, falling back to the
// completion time, falling back to last modification for legacy records.
// Reviewer-side delay after hand-off deliberately does not count against
// the assignee.
func deliveredBy(issue *models.Issue) time.Time {
	if issue.ReviewedAt != nil {
		return *issue.ReviewedAt
	}
	if issue.CompletedAt != nil {
		return *issue.CompletedAt
	}
	return issue.UpdatedAt
}

// classify compares delivery against the due date on calendar dates only;
// time of day is discarded. Issues without a due date carry no timeliness
// signal.
func classify(delivered time.Time, due *time.Time) (onTime, timed bool) {
	if due == nil {
		return false, false
	}
	d := time.Date(delivered.Year(), delivered.Month(), delivered.Day(), 0, 0, 0, 0, time.UTC)
	dd := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return !d.After(dd), true
}
