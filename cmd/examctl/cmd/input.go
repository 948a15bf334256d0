package cmd

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zaqqye/exam_guard/internal/monitor"
)

// action is one parsed input line. Exactly one field is set, except for an
// empty line where none is.
type action struct {
	event  monitor.Event
	answer *answerInput
	submit bool
	quit   bool
}

type answerInput struct {
	kind     monitor.AnswerKind
	question string
	text     string
}

const inputHelp = `input lines:
  tab                      exam page hidden
  blur [hidden]            window lost focus
  mouseout X Y W H         pointer left a WxH viewport at X,Y
  fullscreen on|off        fullscreen entered or left
  copy | paste | click
  resize INNER SCREEN      window resized (inner and screen height)
  mcq QUESTION CHOICE      record a multiple choice answer
  code QUESTION TEXT...    record a coding answer
  submit                   hand in the exam
  quit                     leave without submitting (resume with take)`

func parseLine(line string) (action, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return action{}, nil
	}
	fields := strings.Fields(line)
	verb, args := strings.ToLower(fields[0]), fields[1:]

	ints := func(n int) ([]int, error) {
		if len(args) != n {
			return nil, errors.Errorf("%s takes %d numbers", verb, n)
		}
		out := make([]int, n)
		for i, a := range args {
			v, err := strconv.Atoi(a)
			if err != nil {
				return nil, errors.Errorf("%s: %q is not a number", verb, a)
			}
			out[i] = v
		}
		return out, nil
	}

	switch verb {
	case "tab", "hidden":
		return action{event: monitor.TabHidden{}}, nil
	case "blur":
		hidden := len(args) > 0 && strings.EqualFold(args[0], "hidden")
		return action{event: monitor.FocusLost{DocumentHidden: hidden}}, nil
	case "mouseout":
		v, err := ints(4)
		if err != nil {
			return action{}, err
		}
		return action{event: monitor.MouseOut{X: v[0], Y: v[1], W: v[2], H: v[3]}}, nil
	case "fullscreen":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return action{}, errors.New("fullscreen takes on or off")
		}
		return action{event: monitor.FullscreenChanged{Active: args[0] == "on"}}, nil
	case "copy":
		return action{event: monitor.CopyAttempted{}}, nil
	case "paste":
		return action{event: monitor.PasteAttempted{}}, nil
	case "click":
		return action{event: monitor.Clicked{}}, nil
	case "resize":
		v, err := ints(2)
		if err != nil {
			return action{}, err
		}
		return action{event: monitor.Resized{InnerHeight: v[0], ScreenHeight: v[1]}}, nil
	case "mcq":
		if len(args) != 2 {
			return action{}, errors.New("mcq takes a question and a choice")
		}
		return action{answer: &answerInput{kind: monitor.MCQ, question: args[0], text: args[1]}}, nil
	case "code":
		if len(args) < 1 {
			return action{}, errors.New("code takes a question and the answer text")
		}
		// Keep the answer text as typed, inner spacing included.
		rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		return action{answer: &answerInput{kind: monitor.Coding, question: args[0], text: text}}, nil
	case "submit":
		return action{submit: true}, nil
	case "quit", "exit":
		return action{quit: true}, nil
	}
	return action{}, errors.Errorf("unknown input %q", verb)
}
