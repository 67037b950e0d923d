package model

// Option is one answer choice of a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a single exam question as delivered to the taker.
// It never carries the answer key.
type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"questionText"`
	MultiSelect bool     `json:"multiSelect"`
	Options     []Option `json:"options"`
}

// HasOption reports whether optionID belongs to the question.
func (q *Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// BankQuestion is a question bank row, answer key included. Server side only.
type BankQuestion struct {
	Question
	CorrectOptionIDs []string               `json:"correctOptionIds"`
	Explanations     map[string]Explanation `json:"explanations,omitempty"`
	Tag              string                 `json:"tag,omitempty"`
}
