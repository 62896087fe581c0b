package domain

import "sort"

// Reduce folds a single action onto a snapshot and returns the next
// snapshot. It is pure: the input is never mutated, no clocks are read
// (terminal timestamps come from the action itself), and it is total over
// all kinds — unknown kinds pass through unchanged so logs written by a
// newer schema replay cleanly.
//
// Once a test is COMPLETED no action of any kind is applied. This guard
// runs before kind dispatch and is the load-bearing correctness rule of the
// whole service: it is what lets late or duplicated terminal-boundary
// traffic be accepted and ignored.
func Reduce(t Test, a Action) Test {
	if t.Status == StatusCompleted {
		return t
	}

	switch a.Kind {
	case ActionSelect:
		qi := t.questionIndex(a.QuestionID)
		if qi < 0 {
			return t
		}
		if !hasOption(t.Questions[qi], a.OptionID) {
			// Stale client state; selecting an unknown option is a no-op.
			return t
		}
		next := t.Clone()
		q := &next.Questions[qi]
		q.Skip = false
		for i := range q.Options {
			selected := q.Options[i].ID == a.OptionID
			q.Options[i].UserSelected = &selected
		}
		return next

	case ActionSkip:
		qi := t.questionIndex(a.QuestionID)
		if qi < 0 {
			return t
		}
		next := t.Clone()
		q := &next.Questions[qi]
		q.Skip = true
		clearSelections(q)
		return next

	case ActionReset:
		qi := t.questionIndex(a.QuestionID)
		if qi < 0 {
			return t
		}
		next := t.Clone()
		q := &next.Questions[qi]
		q.Skip = false
		clearSelections(q)
		return next

	case ActionHardReset:
		next := t.Clone()
		for i := range next.Questions {
			next.Questions[i].Skip = false
			clearSelections(&next.Questions[i])
		}
		next.CurrentIndex = 0
		return next

	case ActionNavigate:
		// Bounds checking is the ingestion layer's job; the reducer
		// trusts the index.
		next := t.Clone()
		next.CurrentIndex = a.QuestionIndex
		return next

	case ActionSubmit:
		next := t.Clone()
		next.Status = StatusCompleted
		ended := a.ClientTimestamp
		next.EndedAt = &ended
		next.CurrentIndex = a.QuestionIndex
		return next

	case ActionTimeout:
		next := t.Clone()
		next.Status = StatusCompleted
		ended := a.ClientTimestamp
		next.EndedAt = &ended
		return next
	}

	return t
}

// Replay folds records over a snapshot in their canonical order: client
// timestamp ascending, insertion sequence as the tie-break. The input slice
// is not reordered.
func Replay(t Test, records []ActionRecord) Test {
	ordered := make([]ActionRecord, len(records))
	copy(ordered, records)
	SortRecords(ordered)
	for _, rec := range ordered {
		t = Reduce(t, rec.Action)
	}
	return t
}

// SortRecords orders records by client timestamp, then sequence.
func SortRecords(records []ActionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Action.ClientTimestamp, records[j].Action.ClientTimestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return records[i].Seq < records[j].Seq
	})
}

func hasOption(q Question, optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

func clearSelections(q *Question) {
	for i := range q.Options {
		q.Options[i].UserSelected = nil
	}
}
