package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zaqqye/exam_guard/internal/client"
	"github.com/zaqqye/exam_guard/internal/monitor"
	"github.com/zaqqye/exam_guard/internal/session"
	"github.com/zaqqye/exam_guard/internal/ws"
)

var takeCmd = &cobra.Command{
	Use:   "take",
	Short: "Open an exam and run the integrity monitor",
	Long: `Open an exam like a browser would load the exam page. A fresh attempt starts
the timer; an attempt already in progress resumes and the reload counts as a
page refresh. Events are read from standard input, one per line.

` + inputHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		examID, _ := cmd.Flags().GetString("exam")
		captureFile, _ := cmd.Flags().GetString("capture-file")
		if examID == "" {
			return errors.New("--exam is required")
		}
		st, err := openState()
		if err != nil {
			return err
		}
		defer st.Close()
		log := logger()
		c, err := st.client(log, true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return take(ctx, takeOptions{
			client:      c,
			state:       st,
			examID:      examID,
			captureFile: captureFile,
			in:          cmd.InOrStdin(),
			out:         &syncWriter{w: cmd.OutOrStdout()},
		})
	},
}

func init() {
	takeCmd.Flags().String("exam", "", "exam id")
	takeCmd.Flags().String("capture-file", "", "image file uploaded as the periodic webcam frame")
	rootCmd.AddCommand(takeCmd)
}

type takeOptions struct {
	client      *client.Client
	state       *localState
	examID      string
	captureFile string
	in          io.Reader
	out         io.Writer
}

func take(ctx context.Context, o takeOptions) error {
	c := o.client
	boot, err := c.Exam(ctx, o.examID)
	if err != nil {
		if client.StatusOf(err) == http.StatusUnauthorized {
			_ = o.state.forget()
		}
		return err
	}
	if boot.Submitted {
		fmt.Fprintf(o.out, "%s is already submitted\n", boot.Exam.Title)
		return nil
	}
	policy := boot.Policy.Policy()

	cfg := monitor.Config{
		Exam:      boot.MonitorExam(),
		Policy:    policy,
		Storage:   o.state.attempt(boot.Exam.ExamID, boot.UserID),
		Reporter:  c,
		Pinger:    c,
		Display:   newTermDisplay(o.out, policy.TimeWarning),
		Submitter: client.Submitter{Client: c, OnRedirect: func(path string) { fmt.Fprintf(o.out, "leaving exam for %s\n", path) }},
	}
	if o.captureFile != "" {
		cfg.Camera = fileCamera(o.captureFile)
		cfg.Uploader = c
	}
	m, err := monitor.New(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Load(); err != nil {
		return err
	}
	if m.State() == monitor.NotStarted {
		if err := m.Start(); err != nil {
			return err
		}
		fmt.Fprintf(o.out, "started %s (%d minutes)\n", boot.Exam.Title, boot.Exam.DurationMinutes)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ended := make(chan string, 2)
	endSession := func(msg string) {
		select {
		case ended <- msg:
		default:
		}
	}
	go (&client.SessionPoller{
		Checker:   c,
		Delay:     policy.SessionCheckDelay,
		Interval:  policy.SessionCheckInterval,
		OnInvalid: func(r session.Reason) { endSession("session ended: " + string(r)) },
	}).Run(ctx)
	go func() {
		err := c.Listen(ctx, func(msg ws.StudentMessage) bool {
			switch msg.Type {
			case ws.StudentSessionSuperseded, ws.StudentForceLogout:
				endSession(msg.Message)
				return false
			case ws.StudentResubmitAllowed:
				fmt.Fprintln(o.out, msg.Message)
			}
			return true
		})
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(o.out, "live notifications unavailable: %v\n", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(o.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-m.Done():
			fmt.Fprintf(o.out, "submitted (%s)\n", m.Reason())
			return nil
		case msg := <-ended:
			fmt.Fprintln(o.out, msg)
			return o.state.forget()
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := apply(m, line, o.out); done {
				return nil
			}
		}
	}
}

// apply feeds one input line to the monitor and reports whether the session
// should end without submitting.
func apply(m *monitor.Monitor, line string, out io.Writer) bool {
	a, err := parseLine(line)
	if err != nil {
		fmt.Fprintln(out, err)
		return false
	}
	switch {
	case a.quit:
		fmt.Fprintln(out, "left the exam; run take again to resume")
		return true
	case a.submit:
		if err := m.Submit(); err != nil {
			fmt.Fprintln(out, err)
		}
	case a.answer != nil:
		if err := m.RecordAnswer(a.answer.kind, a.answer.question, a.answer.text); err != nil {
			fmt.Fprintln(out, err)
		}
	case a.event != nil:
		m.Handle(a.event)
	}
	return false
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
