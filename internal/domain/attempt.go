package domain

import "time"

// StartedAttempt is the start-or-resume response of POST exams/{id}/start/.
type StartedAttempt struct {
	AttemptID ID         `json:"attempt_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	Questions []Question `json:"questions"`
}

// RemainingSeconds is max(0, expiry-now) truncated to whole seconds.
func (a StartedAttempt) RemainingSeconds(now time.Time) int {
	left := a.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// ResumeState is the server's last autosaved state for an attempt.
type ResumeState struct {
	Answers map[ID]Answer `json:"answers"`
	Times   map[ID]int    `json:"times"`
	Flagged map[ID]bool   `json:"flagged"`
}

// FlaggedIDs returns the ids the server records as flagged.
func (r ResumeState) FlaggedIDs() []ID {
	out := make([]ID, 0, len(r.Flagged))
	for id, on := range r.Flagged {
		if on {
			out = append(out, id)
		}
	}
	return out
}

// ProgressSave is the autosave body for one question.
type ProgressSave struct {
	QuestionID ID     `json:"question_id"`
	Answer     Answer `json:"answer"`
	TimeSpent  int    `json:"time_spent"`
	Flagged    bool   `json:"flagged"`
}

// AnswerFile is a locally selected file waiting for upload.
type AnswerFile struct {
	Name string
	Data []byte
}

// UploadedFile is an answer file the server has accepted.
type UploadedFile struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// AttemptReview is the subset of GET attempts/{id}/review/ the session uses.
type AttemptReview struct {
	Uploads   []UploadedFile `json:"uploads"`
	ExamTitle string         `json:"exam_title"`
}

// AnswerPayload is the stored form of a non-essay answer.
type AnswerPayload struct {
	Answers []string `json:"answers"`
}

// ResponseEntry is one question's entry in a submission.
// A nil Payload marks an essay question whose content came through upload.
type ResponseEntry struct {
	QuestionID ID             `json:"question_id"`
	Payload    *AnswerPayload `json:"answer_payload"`
	TimeSpent  int            `json:"time_spent_seconds"`
}

// Submission is the body of POST exams/{id}/submit/.
type Submission struct {
	AttemptID ID              `json:"attempt_id"`
	Responses []ResponseEntry `json:"responses"`
}

// SubmitResult is the server's response to a submission.
type SubmitResult struct {
	AttemptID ID      `json:"attempt_id"`
	Score     float64 `json:"score"`
	Total     float64 `json:"total"`
}

// Tokens are the bearer credentials issued by auth/login/.
type Tokens struct {
	Access  string `json:"access" yaml:"access"`
	Refresh string `json:"refresh" yaml:"refresh"`
}
