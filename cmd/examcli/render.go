package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/stemsi/exstem-session/internal/engine"
	"github.com/stemsi/exstem-session/internal/model"
)

const clearScreen = "\033[H\033[2J"

func render(w io.Writer, v engine.View) {
	var b strings.Builder

	switch v.Phase {
	case engine.PhaseNoSession:
		b.WriteString("No exam in progress. Type \"start\" to begin, h for help.\n")
		writeStatus(&b, v)
		io.WriteString(w, b.String())
		return
	case engine.PhaseFinished:
		fmt.Fprintf(&b, "Exam %s finished.\n", v.ExamID)
		if v.Result != nil {
			writeResult(&b, v.Result)
		}
		b.WriteString("Type \"review\" for details or \"start\" for a new exam.\n")
		io.WriteString(w, b.String())
		return
	}

	fmt.Fprintf(&b, "Exam %s   %s   answered %d/%d   %d%%\n",
		v.ExamID, v.Clock, v.AnswerCount, v.Total, v.ProgressPct)
	if v.Phase == engine.PhaseFinishing {
		b.WriteString("Finishing...\n")
	}
	if !v.Persistent {
		b.WriteString("(progress is not being saved on this machine)\n")
	}
	b.WriteString(windowLine(v))
	b.WriteString("\n\n")

	if q := v.Question; q != nil {
		fmt.Fprintf(&b, "Q%d. %s\n", v.CurrentIndex+1, q.Text)
		if q.MultiSelect {
			b.WriteString("(select all that apply)\n")
		}
		for _, o := range q.Options {
			mark := " "
			if slices.Contains(v.Selected, o.ID) {
				mark = "x"
			}
			fmt.Fprintf(&b, "  [%s] %s) %s\n", mark, o.ID, o.Text)
		}
		if v.Saved {
			b.WriteString("saved\n")
		}
	}
	writeStatus(&b, v)
	io.WriteString(w, b.String())
}

// windowLine renders the visible question numbers, current one bracketed and
// saved ones starred.
func windowLine(v engine.View) string {
	parts := make([]string, 0, len(v.Window))
	for _, i := range v.Window {
		label := fmt.Sprintf("%d", i+1)
		if v.SavedMarks[i] {
			label += "*"
		}
		if i == v.CurrentIndex {
			label = "[" + label + "]"
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " ")
}

func writeStatus(b *strings.Builder, v engine.View) {
	if v.Status.Kind == engine.StatusNone {
		return
	}
	fmt.Fprintf(b, "! %s", v.Status.Message)
	if v.Status.QuestionID != "" {
		fmt.Fprintf(b, " (question %s)", v.Status.QuestionID)
	}
	b.WriteString("\n")
}

func writeResult(b *strings.Builder, r *model.FinishResult) {
	fmt.Fprintf(b, "Score %.2f%%   correct %d   wrong %d", r.ScorePercent, r.Correct, r.Wrong)
	if r.Passed != nil {
		if *r.Passed {
			b.WriteString("   PASSED")
		} else {
			b.WriteString("   NOT PASSED")
		}
	}
	b.WriteString("\n")
}

// renderMap prints every question number with its answered and saved marks.
func renderMap(w io.Writer, v engine.View) {
	if v.Total == 0 {
		io.WriteString(w, "No questions.\n")
		return
	}
	var b strings.Builder
	for n, i := range engine.AllIndices(v.Total) {
		mark := "."
		switch {
		case v.SavedMarks[i]:
			mark = "*"
		case i < len(v.Answered) && v.Answered[i]:
			mark = "o"
		}
		cell := fmt.Sprintf("%3d%s", i+1, mark)
		if i == v.CurrentIndex {
			cell = fmt.Sprintf("%3d<", i+1)
		}
		b.WriteString(cell)
		if (n+1)%10 == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	b.WriteString("\n. unanswered  o answered  * saved  < current\n")
	io.WriteString(w, b.String())
}

func renderReview(w io.Writer, d *model.ExamDetail) {
	var b strings.Builder
	fmt.Fprintf(&b, "Exam %s started %s\n", d.ExamID, d.StartedAt.Local().Format("2006-01-02 15:04"))
	if d.ScorePercent != nil {
		writeResult(&b, &model.FinishResult{ScorePercent: *d.ScorePercent, Correct: d.Correct, Wrong: d.Wrong, Passed: d.Passed})
	}
	for i, item := range d.Items {
		verdict := " "
		if len(item.Correct) > 0 {
			verdict = "✗"
			if item.WasCorrect {
				verdict = "✓"
			}
		}
		fmt.Fprintf(&b, "%s %d. %s\n", verdict, i+1, item.QuestionText)
		fmt.Fprintf(&b, "    yours: %s", joinOrDash(item.Selected))
		if len(item.Correct) > 0 {
			fmt.Fprintf(&b, "   correct: %s", joinOrDash(item.Correct))
		}
		b.WriteString("\n")
		for _, opt := range item.Correct {
			if e, ok := item.Explanations[opt]; ok && e.Text != "" {
				fmt.Fprintf(&b, "    %s: %s\n", opt, e.Text)
			}
		}
	}
	io.WriteString(w, b.String())
}

func renderHistory(w io.Writer, l *model.ExamList) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d exams\n", l.Total)
	for _, e := range l.Items {
		score := "in progress"
		if e.ScorePercent != nil {
			score = fmt.Sprintf("%.2f%%", *e.ScorePercent)
		}
		fmt.Fprintf(&b, "  %s  %s  %d questions  %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"), e.ID, e.QuestionCount, score)
	}
	io.WriteString(w, b.String())
}

func joinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}
