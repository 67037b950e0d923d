package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-session/internal/engine"
	"github.com/stemsi/exstem-session/internal/model"
)

// session is the part of *engine.Engine the terminal drives.
type session interface {
	Start(ctx context.Context, count, durationSec int) error
	Toggle(ctx context.Context, optID string) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Jump(ctx context.Context, input string) error
	Random(ctx context.Context) error
	ResetCurrent(ctx context.Context) error
	Submit(ctx context.Context) error
	Finish(ctx context.Context) (*model.FinishResult, error)
	Abandon(ctx context.Context) error
	Review(ctx context.Context, examID string) (*model.ExamDetail, error)
	History(ctx context.Context, limit, offset int) (*model.ExamList, error)
	View() engine.View
}

var errQuit = errors.New("quit")

const helpText = `Commands:
  start [count] [seconds]  start a new exam
  n | p                    next / previous question
  j <k>                    jump to question k
  r                        random question
  t <option>               toggle an option of the current question
  x                        clear the current question
  s                        save the current answer
  m                        question map
  f                        finish the exam
  abandon                  drop the exam without finishing
  review [examId]          show a graded exam
  history [limit] [offset] list past exams
  h                        this help
  q                        quit (the exam keeps running on restart)
`

// commander turns input lines into engine calls. Output that is not part of
// the session view goes to out.
type commander struct {
	sess         session
	out          io.Writer
	defaultCount int
	defaultDur   int
}

func (c *commander) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "q", "quit", "exit":
		return errQuit
	case "h", "help", "?":
		_, err := io.WriteString(c.out, helpText)
		return err
	case "start":
		count, err := intArg(args, 0, c.defaultCount)
		if err != nil {
			return err
		}
		dur, err := intArg(args, 1, c.defaultDur)
		if err != nil {
			return err
		}
		return c.sess.Start(ctx, count, dur)
	case "n", "next":
		return c.sess.Next(ctx)
	case "p", "prev":
		return c.sess.Prev(ctx)
	case "j", "jump":
		if len(args) == 0 {
			return fmt.Errorf("usage: j <question number>")
		}
		return c.sess.Jump(ctx, args[0])
	case "r", "random":
		return c.sess.Random(ctx)
	case "t", "toggle":
		if len(args) == 0 {
			return fmt.Errorf("usage: t <option>")
		}
		for _, opt := range args {
			if err := c.sess.Toggle(ctx, opt); err != nil {
				return err
			}
		}
		return nil
	case "x", "clear":
		return c.sess.ResetCurrent(ctx)
	case "s", "save":
		return c.sess.Submit(ctx)
	case "m", "map":
		renderMap(c.out, c.sess.View())
		return nil
	case "f", "finish":
		_, err := c.sess.Finish(ctx)
		return err
	case "abandon":
		return c.sess.Abandon(ctx)
	case "review":
		examID := c.sess.View().ExamID
		if len(args) > 0 {
			examID = args[0]
		}
		if examID == "" {
			return fmt.Errorf("usage: review <examId>")
		}
		detail, err := c.sess.Review(ctx, examID)
		if err != nil {
			return err
		}
		renderReview(c.out, detail)
		return nil
	case "history":
		limit, err := intArg(args, 0, 10)
		if err != nil {
			return err
		}
		offset, err := intArg(args, 1, 0)
		if err != nil {
			return err
		}
		list, err := c.sess.History(ctx, limit, offset)
		if err != nil {
			return err
		}
		renderHistory(c.out, list)
		return nil
	default:
		return fmt.Errorf("unknown command %q, type h for help", cmd)
	}
}

func intArg(args []string, i, fallback int) (int, error) {
	if len(args) <= i {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", args[i])
	}
	return n, nil
}
