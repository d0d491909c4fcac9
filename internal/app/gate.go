package app

import (
	"context"
	"errors"
	"fmt"

	"mentara-client/internal/domain"
)

// buildSubmission emits one entry per question. Essay entries carry a nil
// payload because their content arrives through the upload channel.
func buildSubmission(attemptID domain.ID, questions []domain.Question, answers map[domain.ID]domain.Answer) domain.Submission {
	responses := make([]domain.ResponseEntry, 0, len(questions))
	for _, q := range questions {
		entry := domain.ResponseEntry{QuestionID: q.ID}
		if !q.IsStructured() {
			values := []string{}
			if a, ok := answers[q.ID]; ok && !a.Empty() {
				values = append(values, a...)
			}
			entry.Payload = &domain.AnswerPayload{Answers: values}
		}
		responses = append(responses, entry)
	}
	return domain.Submission{AttemptID: attemptID, Responses: responses}
}

func replyOutcome(reply chan domain.SubmitOutcome, out domain.SubmitOutcome) {
	if reply != nil {
		reply <- out
	}
}

// handleSubmit is the submission gate.
func (s *Session) handleSubmit(m submitMsg) {
	if s.status != domain.StatusActive || s.submitAfterUpload != nil {
		replyOutcome(m.reply, domain.SubmitOutcome{Kind: domain.OutcomeIgnored})
		return
	}
	forced := m.opts.Force || s.stickyForce
	if forced {
		s.startSubmit(true, m.reply)
		return
	}

	if s.structured {
		if s.phase == domain.PhaseQuestions {
			s.phase = domain.PhaseUpload
			s.persist()
			s.presenter.Notify(domain.Notice{Level: domain.NoticeInfo, Message: "Upload photos or scans of your written answers to finish."})
			replyOutcome(m.reply, domain.SubmitOutcome{Kind: domain.OutcomeMovedToUpload})
			return
		}
		if len(s.selected) > 0 || s.uploading {
			pending := m
			s.submitAfterUpload = &pending
			if !s.uploading {
				s.startUpload()
			}
			return
		}
		if len(s.uploaded) == 0 {
			s.presenter.Notify(domain.Notice{Level: domain.NoticeError, Message: "Please " + domain.ErrUploadRequired.Error() + "."})
			replyOutcome(m.reply, domain.SubmitOutcome{Kind: domain.OutcomeBlocked, Error: domain.ErrUploadRequired.Error()})
			return
		}
	} else if n := s.unanswered(); n > 0 && !m.opts.Override {
		replyOutcome(m.reply, domain.SubmitOutcome{Kind: domain.OutcomeNeedsConfirmation, Unanswered: n})
		return
	}
	s.startSubmit(false, m.reply)
}

// forceSubmit is the timer and integrity path; it bypasses every gate and is a
// no-op while a submission is in flight or done.
func (s *Session) forceSubmit(reason string) {
	if s.status != domain.StatusActive {
		return
	}
	s.log.Info().Str("reason", reason).Msg("forcing submission")
	s.startSubmit(true, nil)
}

func (s *Session) startSubmit(forced bool, reply chan domain.SubmitOutcome) {
	s.status = domain.StatusSubmitting
	s.submitReply = reply
	if s.forceTimer != nil {
		s.forceTimer.Stop()
		s.forceTimer = nil
	}

	submission := buildSubmission(s.attemptID, s.questions, s.answers)
	examID := s.examID
	s.goAsync(func(ctx context.Context) any {
		result, err := s.api.SubmitAttempt(ctx, examID, submission)
		return submitDoneMsg{result: result, err: err, forced: forced}
	})
}

func (s *Session) handleSubmitDone(m submitDoneMsg) {
	reply := s.submitReply
	s.submitReply = nil

	if m.err == nil {
		s.finish(domain.Route{Kind: domain.RouteResults, AttemptID: s.resultID(m.result.AttemptID)})
		s.presenter.Notify(domain.Notice{Level: domain.NoticeSuccess, Message: "Exam submitted."})
		result := m.result
		result.AttemptID = s.resultID(result.AttemptID)
		replyOutcome(reply, domain.SubmitOutcome{Kind: domain.OutcomeSubmitted, Result: &result})
		return
	}

	msg := domain.UserMessage(m.err, "Failed to submit test.")
	var reqErr *domain.RequestError
	switch {
	case errors.Is(m.err, domain.ErrAlreadyAttempted):
		id := s.attemptID
		if errors.As(m.err, &reqErr) && reqErr.AttemptID != "" {
			id = reqErr.AttemptID
		}
		s.presenter.Notify(domain.Notice{Level: domain.NoticeInfo, Message: msg})
		s.finish(domain.Route{Kind: domain.RouteResults, AttemptID: id})
		replyOutcome(reply, domain.SubmitOutcome{Kind: domain.OutcomeFailed, Error: msg})
		return
	case errors.Is(m.err, domain.ErrAttemptExpired):
		s.presenter.Notify(domain.Notice{Level: domain.NoticeWarning, Message: msg})
		s.finish(domain.Route{Kind: domain.RouteExamList})
		replyOutcome(reply, domain.SubmitOutcome{Kind: domain.OutcomeFailed, Error: msg})
		return
	}

	s.status = domain.StatusActive
	s.log.Error().Err(m.err).Bool("forced", m.forced).Msg("submission failed")
	if m.forced {
		s.stickyForce = true
		s.presenter.Notify(domain.Notice{
			Level:   domain.NoticeError,
			Message: fmt.Sprintf("Automatic submission failed: %s. Submit again to record your answers.", msg),
		})
	} else {
		s.presenter.Notify(domain.Notice{Level: domain.NoticeError, Message: "Failed to submit test: " + msg})
	}
	replyOutcome(reply, domain.SubmitOutcome{Kind: domain.OutcomeFailed, Error: msg})
}

func (s *Session) resultID(server domain.ID) domain.ID {
	if server != "" {
		return server
	}
	return s.attemptID
}

// finish ends the session and drops the resume snapshot.
func (s *Session) finish(route domain.Route) {
	s.status = domain.StatusFinished
	s.writer.enqueue(snapshotJob{snapshot: domain.Snapshot{AttemptID: s.attemptID}, remove: true})
	s.presenter.Navigate(route)
}

func (s *Session) handleUpload(reply chan uploadReply) {
	switch {
	case s.status != domain.StatusActive:
		reply <- uploadReply{err: domain.ErrSessionClosed}
		return
	case !s.structured:
		reply <- uploadReply{err: errors.New("this exam has no written questions to upload")}
		return
	case len(s.selected) == 0 && !s.uploading:
		reply <- uploadReply{err: errors.New("no files selected")}
		return
	}
	s.uploadReplies = append(s.uploadReplies, reply)
	if !s.uploading {
		s.startUpload()
	}
}

func (s *Session) startUpload() {
	s.uploading = true
	files := append([]domain.AnswerFile(nil), s.selected...)
	attemptID := s.attemptID
	s.goAsync(func(ctx context.Context) any {
		uploaded, err := s.api.UploadFiles(ctx, attemptID, files)
		return uploadDoneMsg{count: len(files), files: uploaded, err: err}
	})
}

func (s *Session) handleUploadDone(m uploadDoneMsg) {
	s.uploading = false
	for _, reply := range s.uploadReplies {
		reply <- uploadReply{files: m.files, err: m.err}
	}
	s.uploadReplies = nil

	pending := s.submitAfterUpload
	s.submitAfterUpload = nil

	if m.err != nil {
		msg := domain.UserMessage(m.err, "Upload failed.")
		s.presenter.Notify(domain.Notice{Level: domain.NoticeError, Message: "Upload failed: " + msg})
		if pending != nil {
			replyOutcome(pending.reply, domain.SubmitOutcome{Kind: domain.OutcomeFailed, Error: msg})
		}
		return
	}

	// files selected while the upload was running stay selected
	if m.count >= len(s.selected) {
		s.selected = nil
	} else {
		s.selected = append([]domain.AnswerFile(nil), s.selected[m.count:]...)
	}
	s.uploaded = append(s.uploaded, m.files...)
	s.presenter.Notify(domain.Notice{Level: domain.NoticeSuccess, Message: fmt.Sprintf("Uploaded %d file(s).", len(m.files))})

	if pending != nil {
		s.handleSubmit(*pending)
	}
}
