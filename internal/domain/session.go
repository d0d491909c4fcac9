package domain

import "fmt"

// Phase is the submission-gate phase of a session.
type Phase string

const (
	PhaseQuestions Phase = "questions"
	// PhaseUpload is only reachable for exams with a structured question.
	PhaseUpload Phase = "upload"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusSubmitting Status = "submitting"
	StatusFinished   Status = "finished"
)

// IntegrityKind names a browser event the integrity monitor reacts to.
type IntegrityKind string

const (
	IntegrityVisibilityHidden IntegrityKind = "visibility_hidden"
	IntegrityWindowBlur       IntegrityKind = "window_blur"
	IntegrityFullscreenExit   IntegrityKind = "fullscreen_exit"
)

// Describe returns the reason shown in strike warnings.
func (k IntegrityKind) Describe() string {
	switch k {
	case IntegrityVisibilityHidden:
		return "you switched away from the exam tab"
	case IntegrityWindowBlur:
		return "the exam window lost focus"
	case IntegrityFullscreenExit:
		return "you left fullscreen mode"
	}
	return string(k)
}

// Valid reports whether k is a strike-worthy event.
func (k IntegrityKind) Valid() bool {
	switch k {
	case IntegrityVisibilityHidden, IntegrityWindowBlur, IntegrityFullscreenExit:
		return true
	}
	return false
}

// NoticeLevel is the severity of a transient notification.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a toast-style message for the user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// RouteKind names a view the session can navigate to.
type RouteKind string

const (
	RouteResults  RouteKind = "results"
	RouteLanding  RouteKind = "dashboard"
	RouteExamList RouteKind = "exams"
)

// Route is a navigation target.
type Route struct {
	Kind      RouteKind `json:"kind"`
	AttemptID ID        `json:"attemptId,omitempty"`
}

// Path renders the route as a frontend path.
func (r Route) Path() string {
	if r.Kind == RouteResults {
		return "/results/" + string(r.AttemptID)
	}
	return "/" + string(r.Kind)
}

// SubmitOptions controls the submission gate.
type SubmitOptions struct {
	// Force bypasses every gate; used for time-over and strike-out.
	Force bool
	// Override confirms submitting with unanswered questions.
	Override bool
}

// OutcomeKind is the gate's decision for one submit request.
type OutcomeKind string

const (
	OutcomeSubmitted         OutcomeKind = "submitted"
	OutcomeMovedToUpload     OutcomeKind = "moved_to_upload"
	OutcomeNeedsConfirmation OutcomeKind = "needs_confirmation"
	OutcomeBlocked           OutcomeKind = "blocked"
	OutcomeIgnored           OutcomeKind = "ignored"
	OutcomeFailed            OutcomeKind = "failed"
)

// SubmitOutcome reports what a submit request did.
type SubmitOutcome struct {
	Kind       OutcomeKind   `json:"kind"`
	Unanswered int           `json:"unanswered,omitempty"`
	Result     *SubmitResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// SessionView is a read-only copy of session state for rendering.
type SessionView struct {
	AttemptID        ID             `json:"attemptId"`
	ExamID           ID             `json:"examId"`
	Exam             Exam           `json:"exam"`
	Questions        []Question     `json:"questions"`
	CurrentIndex     int            `json:"currentIndex"`
	Answers          map[ID]Answer  `json:"answers"`
	Flags            []ID           `json:"flags"`
	RemainingSeconds int            `json:"remainingSeconds"`
	Phase            Phase          `json:"phase"`
	Status           Status         `json:"status"`
	Strikes          int            `json:"strikes"`
	MaxStrikes       int            `json:"maxStrikes"`
	Unanswered       int            `json:"unanswered"`
	SelectedFiles    []string       `json:"selectedFiles"`
	Uploaded         []UploadedFile `json:"uploaded"`
}

// Current returns the question at CurrentIndex, if any.
func (v SessionView) Current() (Question, bool) {
	if v.CurrentIndex < 0 || v.CurrentIndex >= len(v.Questions) {
		return Question{}, false
	}
	return v.Questions[v.CurrentIndex], true
}

// IsFlagged reports whether id is in the view's flag list.
func (v SessionView) IsFlagged(id ID) bool {
	for _, f := range v.Flags {
		if f == id {
			return true
		}
	}
	return false
}

// FormatClock renders seconds as H:MM:SS or M:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
