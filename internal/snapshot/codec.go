package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// ErrRecoveryCorrupt marks a slot whose payload cannot be turned back into a
// session. Callers treat it exactly like an empty slot.
var ErrRecoveryCorrupt = errors.New("snapshot corrupt")

// storedExam is the on-disk shape of a session. startedAt is epoch milliseconds.
type storedExam struct {
	ExamID          string           `json:"examId"`
	Questions       []model.Question `json:"questions"`
	StartedAt       int64            `json:"startedAt"`
	DurationSec     int              `json:"durationSec"`
	CurrentIdx      int              `json:"currentIdx"`
	SelectionsByQid model.Selections `json:"selectionsByQid"`
	SavedByIdx      map[int]bool     `json:"savedByIdx,omitempty"`
	Finishing       bool             `json:"finishing,omitempty"`
}

// Encode serializes a session for a slot.
func Encode(s *model.ExamSession) ([]byte, error) {
	if s == nil {
		return nil, errors.New("encode snapshot: nil session")
	}
	st := storedExam{
		ExamID:          s.ExamID,
		Questions:       s.Questions,
		StartedAt:       s.StartedAt.UnixMilli(),
		DurationSec:     s.DurationSec,
		CurrentIdx:      s.CurrentIndex,
		SelectionsByQid: s.Selections,
		SavedByIdx:      s.SavedMarks,
		Finishing:       s.Finishing,
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// Decode parses and validates a slot payload. The current index is clamped
// into range. Saved marks for unknown indices and selections for unknown
// questions or options are dropped. Anything structurally wrong yields
// ErrRecoveryCorrupt, including a single-select question holding two options.
func Decode(raw []byte) (*model.ExamSession, error) {
	var st storedExam
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryCorrupt, err)
	}
	if st.ExamID == "" {
		return nil, fmt.Errorf("%w: empty exam id", ErrRecoveryCorrupt)
	}
	if st.StartedAt <= 0 {
		return nil, fmt.Errorf("%w: invalid startedAt %d", ErrRecoveryCorrupt, st.StartedAt)
	}
	if st.DurationSec < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrRecoveryCorrupt)
	}

	n := len(st.Questions)
	idx := st.CurrentIdx
	if n == 0 || idx < 0 {
		idx = 0
	} else if idx > n-1 {
		idx = n - 1
	}

	sel, err := checkSelections(st.Questions, st.SelectionsByQid)
	if err != nil {
		return nil, err
	}
	marks := make(map[int]bool, len(st.SavedByIdx))
	for i, v := range st.SavedByIdx {
		if i >= 0 && i < n {
			marks[i] = v
		}
	}

	return &model.ExamSession{
		ExamID:       st.ExamID,
		Questions:    st.Questions,
		StartedAt:    time.UnixMilli(st.StartedAt),
		DurationSec:  st.DurationSec,
		CurrentIndex: idx,
		Selections:   sel,
		SavedMarks:   marks,
		Finishing:    st.Finishing,
	}, nil
}

// checkSelections keeps only selections that name a question and option of
// the session.
func checkSelections(qs []model.Question, in model.Selections) (model.Selections, error) {
	out := make(model.Selections, len(in))
	for _, q := range qs {
		opts, ok := in[q.ID]
		if !ok {
			continue
		}
		kept := make(map[string]bool, len(opts))
		chosen := 0
		for _, o := range q.Options {
			v, ok := opts[o.ID]
			if !ok {
				continue
			}
			kept[o.ID] = v
			if v {
				chosen++
			}
		}
		if !q.MultiSelect && chosen > 1 {
			return nil, fmt.Errorf("%w: single-select question %s holds %d options", ErrRecoveryCorrupt, q.ID, chosen)
		}
		out[q.ID] = kept
	}
	return out, nil
}
