package app

import (
	"context"

	"mentara-client/internal/domain"
)

// AttemptAPI is the subset of the exam API a session drives.
type AttemptAPI interface {
	StartAttempt(ctx context.Context, examID domain.ID) (domain.StartedAttempt, error)
	ResumeAttempt(ctx context.Context, attemptID domain.ID) (domain.ResumeState, error)
	SaveProgress(ctx context.Context, attemptID domain.ID, save domain.ProgressSave) error
	UploadFiles(ctx context.Context, attemptID domain.ID, files []domain.AnswerFile) ([]domain.UploadedFile, error)
	Review(ctx context.Context, attemptID domain.ID) (domain.AttemptReview, error)
	SubmitAttempt(ctx context.Context, examID domain.ID, submission domain.Submission) (domain.SubmitResult, error)
}

// ExamRepository loads exam metadata (from cache/backing API).
type ExamRepository interface {
	GetExam(ctx context.Context, examID domain.ID) (domain.Exam, error)
}

// SnapshotStore abstracts where the resume snapshot lives (file, memory, Redis, Postgres).
// Load returns domain.ErrSnapshotNotFound on a miss.
type SnapshotStore interface {
	Load(ctx context.Context, attemptID domain.ID) (domain.Snapshot, error)
	Save(ctx context.Context, snapshot domain.Snapshot) error
	Delete(ctx context.Context, attemptID domain.ID) error
}

// Presenter renders what the session decides. Calls come from the session
// goroutine and must not block for long.
type Presenter interface {
	Notify(notice domain.Notice)
	Navigate(route domain.Route)
	// HoldRoute keeps the user on the attempt view after a back navigation.
	HoldRoute()
}
