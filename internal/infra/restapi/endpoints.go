package restapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"mentara-client/internal/domain"
)

func attemptPath(attemptID domain.ID, action string) string {
	return "attempts/" + url.PathEscape(attemptID.String()) + "/" + action + "/"
}

func examPath(examID domain.ID, action string) string {
	if action == "" {
		return "exams/" + url.PathEscape(examID.String()) + "/"
	}
	return "exams/" + url.PathEscape(examID.String()) + "/" + action + "/"
}

// StartAttempt starts or resumes the caller's attempt for examID.
func (c *Client) StartAttempt(ctx context.Context, examID domain.ID) (domain.StartedAttempt, error) {
	var started domain.StartedAttempt
	if err := c.do(ctx, request{method: http.MethodPost, path: examPath(examID, "start")}, &started); err != nil {
		return started, fmt.Errorf("start exam %s: %w", examID, err)
	}
	if started.AttemptID == "" {
		return started, fmt.Errorf("start exam %s: response carried no attempt id", examID)
	}
	return started, nil
}

// ResumeAttempt fetches the last autosaved state.
func (c *Client) ResumeAttempt(ctx context.Context, attemptID domain.ID) (domain.ResumeState, error) {
	var state domain.ResumeState
	if err := c.do(ctx, request{method: http.MethodGet, path: attemptPath(attemptID, "resume")}, &state); err != nil {
		return state, fmt.Errorf("resume attempt %s: %w", attemptID, err)
	}
	return state, nil
}

// SaveProgress autosaves one question.
func (c *Client) SaveProgress(ctx context.Context, attemptID domain.ID, save domain.ProgressSave) error {
	req, err := jsonRequest(http.MethodPost, attemptPath(attemptID, "save"), save)
	if err != nil {
		return err
	}
	if err := c.do(ctx, req, nil); err != nil {
		return fmt.Errorf("save attempt %s: %w", attemptID, err)
	}
	return nil
}

type uploadResponse struct {
	Files []domain.UploadedFile `json:"files"`
}

// UploadFiles sends answer files as one multipart request with a "files" part per file.
func (c *Client) UploadFiles(ctx context.Context, attemptID domain.ID, files []domain.AnswerFile) ([]domain.UploadedFile, error) {
	if len(files) == 0 {
		return nil, errors.New("upload: no files")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req := request{
		method:      http.MethodPost,
		path:        attemptPath(attemptID, "upload-submission"),
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		timeout:     c.submitTimeout,
	}
	var resp uploadResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("upload to attempt %s: %w", attemptID, err)
	}
	return resp.Files, nil
}

// Review fetches the attempt review; the session only reads the upload list.
func (c *Client) Review(ctx context.Context, attemptID domain.ID) (domain.AttemptReview, error) {
	var review domain.AttemptReview
	if err := c.do(ctx, request{method: http.MethodGet, path: attemptPath(attemptID, "review")}, &review); err != nil {
		return review, fmt.Errorf("review attempt %s: %w", attemptID, err)
	}
	return review, nil
}

// SubmitAttempt finalizes the attempt. It is never retried automatically.
func (c *Client) SubmitAttempt(ctx context.Context, examID domain.ID, submission domain.Submission) (domain.SubmitResult, error) {
	var result domain.SubmitResult
	req, err := jsonRequest(http.MethodPost, examPath(examID, "submit"), submission)
	if err != nil {
		return result, err
	}
	req.timeout = c.submitTimeout
	if err := c.do(ctx, req, &result); err != nil {
		return result, fmt.Errorf("submit exam %s: %w", examID, err)
	}
	return result, nil
}

// LoadExam fetches exam metadata.
func (c *Client) LoadExam(ctx context.Context, examID domain.ID) (domain.Exam, error) {
	var exam domain.Exam
	err := c.do(ctx, request{method: http.MethodGet, path: examPath(examID, "")}, &exam)
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound {
		return exam, fmt.Errorf("exam %s: %w", examID, domain.ErrExamNotFound)
	}
	if err != nil {
		return exam, fmt.Errorf("load exam %s: %w", examID, err)
	}
	return exam, nil
}
