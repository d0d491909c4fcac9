package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"mentara-client/internal/app"
	"mentara-client/internal/domain"
)

// NewTakeCmd runs an interactive attempt in the terminal.
func NewTakeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "take <examId>",
		Short: "Start or resume an exam attempt in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			examID := domain.ID(args[0])
			term := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
			session, err := rt.service.Open(ctx, examID, term)
			if err != nil {
				return err
			}
			return term.run(ctx, session, examID)
		},
	}
}

// terminal is a line-oriented Presenter and command loop.
type terminal struct {
	in  io.Reader
	mu  sync.Mutex
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: in, out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) Notify(n domain.Notice) {
	t.printf("[%s] %s\n", strings.ToUpper(string(n.Level)), n.Message)
}

func (t *terminal) Navigate(route domain.Route) {
	t.printf("-> %s\n", route.Path())
}

// HoldRoute is a no-op; a terminal has no history to go back through.
func (t *terminal) HoldRoute() {}

const takeHelp = `commands:
  n | next            next question
  p | prev            previous question
  g | goto <number>   jump to a question
  a | answer <value>  answer the current question (multi: A,C)
  f | flag            flag or unflag the current question
  attach <path>...    select answer scans for upload
  clear               drop selected files
  upload              upload selected files
  submit              submit the exam
  s | show            show the current question
  q | quit            save progress and exit
`

func (t *terminal) run(ctx context.Context, session *app.Session, examID domain.ID) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	lines := readLines(ctx, t.in)
	t.printf("%s", takeHelp)
	t.render(ctx, session)

	for {
		select {
		case <-session.Done():
			return t.exit(<-runErr, examID)
		case line, ok := <-lines:
			if !ok || t.handle(ctx, session, line, lines) {
				cancel()
				return t.exit(<-runErr, examID)
			}
		}
	}
}

func (t *terminal) exit(err error, examID domain.ID) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		t.printf("Progress saved. Run `mentara take %s` to resume before time runs out.\n", examID)
		return nil
	}
	return err
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// handle runs one command line and reports whether the user asked to quit.
func (t *terminal) handle(ctx context.Context, session *app.Session, line string, lines <-chan string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		t.render(ctx, session)
		return false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	var err error
	switch strings.ToLower(fields[0]) {
	case "n", "next":
		err = session.Next(ctx)
	case "p", "prev":
		err = session.Prev(ctx)
	case "g", "goto":
		var n int
		if n, err = strconv.Atoi(rest); err == nil {
			err = session.GoTo(ctx, n-1)
		}
	case "a", "answer":
		err = t.answer(ctx, session, rest)
	case "f", "flag":
		var q domain.Question
		if q, err = currentQuestion(ctx, session); err == nil {
			err = session.ToggleFlag(ctx, q.ID)
		}
	case "attach":
		err = attach(ctx, session, fields[1:])
	case "clear":
		err = session.ClearSelection(ctx)
	case "upload":
		var files []domain.UploadedFile
		if files, err = session.UploadSelected(ctx); err == nil {
			for _, f := range files {
				t.printf("  uploaded %s\n", f.Name)
			}
		}
	case "submit":
		t.submit(ctx, session, lines)
		return false
	case "s", "show":
	case "h", "help", "?":
		t.printf("%s", takeHelp)
		return false
	case "q", "quit", "exit":
		return true
	default:
		t.printf("unknown command %q, type help\n", fields[0])
		return false
	}
	if err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			return false
		}
		t.printf("error: %v\n", err)
		return false
	}
	t.render(ctx, session)
	return false
}

func currentQuestion(ctx context.Context, session *app.Session) (domain.Question, error) {
	v, err := session.View(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	q, ok := v.Current()
	if !ok {
		return domain.Question{}, errors.New("this exam has no questions")
	}
	return q, nil
}

// parseAnswer turns typed text into an answer for q.
func parseAnswer(q domain.Question, text string) (domain.Answer, error) {
	switch q.Type {
	case domain.QuestionStructured:
		return nil, errors.New("written questions are answered on paper and uploaded at submit")
	case domain.QuestionFillBlank:
		if text == "" {
			return domain.Answer{}, nil
		}
		return domain.Answer{text}, nil
	case domain.QuestionMultiChoice:
		parts := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' })
		out := make(domain.Answer, 0, len(parts))
		for _, p := range parts {
			label := strings.ToUpper(p)
			if _, ok := q.Choices[label]; !ok {
				return nil, fmt.Errorf("no choice %q", p)
			}
			out = append(out, label)
		}
		return out, nil
	default:
		label := strings.ToUpper(text)
		if label == "" {
			return domain.Answer{}, nil
		}
		if _, ok := q.Choices[label]; !ok && len(q.Choices) > 0 {
			return nil, fmt.Errorf("no choice %q", text)
		}
		return domain.Answer{label}, nil
	}
}

func (t *terminal) answer(ctx context.Context, session *app.Session, text string) error {
	q, err := currentQuestion(ctx, session)
	if err != nil {
		return err
	}
	value, err := parseAnswer(q, text)
	if err != nil {
		return err
	}
	return session.SetAnswer(ctx, q.ID, value)
}

func attach(ctx context.Context, session *app.Session, paths []string) error {
	if len(paths) == 0 {
		return errors.New("usage: attach <path>...")
	}
	files := make([]domain.AnswerFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, domain.AnswerFile{Name: filepath.Base(p), Data: data})
	}
	return session.SelectFiles(ctx, files...)
}

func (t *terminal) submit(ctx context.Context, session *app.Session, lines <-chan string) {
	out, err := session.Submit(ctx, domain.SubmitOptions{})
	if err != nil {
		if !errors.Is(err, domain.ErrSessionClosed) {
			t.printf("error: %v\n", err)
		}
		return
	}
	if out.Kind == domain.OutcomeNeedsConfirmation {
		t.printf("%d question(s) unanswered. Submit anyway? [y/N] ", out.Unanswered)
		reply, ok := <-lines
		if !ok || !strings.EqualFold(strings.TrimSpace(reply), "y") {
			t.printf("Submission cancelled.\n")
			return
		}
		if out, err = session.Submit(ctx, domain.SubmitOptions{Override: true}); err != nil {
			t.printf("error: %v\n", err)
			return
		}
	}
	switch out.Kind {
	case domain.OutcomeSubmitted:
		if out.Result != nil {
			t.printf("Score: %g / %g\n", out.Result.Score, out.Result.Total)
		}
	case domain.OutcomeMovedToUpload:
		t.render(ctx, session)
	case domain.OutcomeIgnored:
		t.printf("A submission is already in progress.\n")
	}
}

func (t *terminal) render(ctx context.Context, session *app.Session) {
	v, err := session.View(ctx)
	if err != nil {
		return
	}
	var b strings.Builder
	left := domain.FormatClock(v.RemainingSeconds)
	if d := v.Exam.Duration(); d > 0 {
		left += " of " + domain.FormatClock(int(d.Seconds()))
	}
	fmt.Fprintf(&b, "\n%s | %s left | %d unanswered", v.Exam.Title, left, v.Unanswered)
	if v.Strikes > 0 {
		fmt.Fprintf(&b, " | warnings %d/%d", v.Strikes, v.MaxStrikes)
	}
	b.WriteString("\n")

	if v.Phase == domain.PhaseUpload {
		b.WriteString("Upload scans of your written answers, then submit.\n")
		for _, name := range v.SelectedFiles {
			fmt.Fprintf(&b, "  selected %s\n", name)
		}
		for _, f := range v.Uploaded {
			fmt.Fprintf(&b, "  uploaded %s\n", f.Name)
		}
		t.printf("%s", b.String())
		return
	}

	q, ok := v.Current()
	if !ok {
		t.printf("%s", b.String())
		return
	}
	flag := ""
	if v.IsFlagged(q.ID) {
		flag = " [flagged]"
	}
	fmt.Fprintf(&b, "Question %d/%d (%g marks)%s\n%s\n", v.CurrentIndex+1, len(v.Questions), q.MarksOrDefault(), flag, q.Prompt)
	answer := v.Answers[q.ID]
	for _, label := range q.ChoiceLabels() {
		mark := " "
		for _, a := range answer {
			if a == label {
				mark = "*"
			}
		}
		fmt.Fprintf(&b, " %s %s) %s\n", mark, label, q.Choices[label])
	}
	switch {
	case q.IsStructured():
		b.WriteString("(answer on paper; you will upload scans when you submit)\n")
	case len(q.Choices) == 0 && !answer.Empty():
		fmt.Fprintf(&b, "Your answer: %s\n", strings.Join(answer, " "))
	}
	t.printf("%s", b.String())
}
