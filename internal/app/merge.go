package app

import "mentara-client/internal/domain"

// restoredState is a session's starting state after merging server and local sources.
type restoredState struct {
	answers    map[domain.ID]domain.Answer
	flags      map[domain.ID]struct{}
	current    int
	phase      domain.Phase
	antiCheat  domain.AntiCheat
	uploaded   []domain.UploadedFile
	hasLocal   bool
	structured bool
}

// mergeAnswers applies server answers first, then local answers on top.
// Local wins per key because it may hold edits newer than the last autosave.
// A local key with no value is a cleared answer and still overrides the server.
func mergeAnswers(server, local map[domain.ID]domain.Answer) map[domain.ID]domain.Answer {
	merged := make(map[domain.ID]domain.Answer, len(server)+len(local))
	for id, answer := range server {
		if answer != nil {
			merged[id] = answer
		}
	}
	for id, answer := range local {
		if answer == nil {
			answer = domain.Answer{}
		}
		merged[id] = answer
	}
	return merged
}

// mergeFlags returns the union of both flag sets.
func mergeFlags(server, local []domain.ID) map[domain.ID]struct{} {
	merged := make(map[domain.ID]struct{}, len(server)+len(local))
	for _, id := range server {
		merged[id] = struct{}{}
	}
	for _, id := range local {
		merged[id] = struct{}{}
	}
	return merged
}

func indexOf(questions []domain.Question, id domain.ID) int {
	if id == "" {
		return -1
	}
	for i, q := range questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// restore merges the resume state and a local snapshot (either may be empty).
func restore(questions []domain.Question, resume domain.ResumeState, snap *domain.Snapshot) restoredState {
	state := restoredState{
		phase:      domain.PhaseQuestions,
		structured: domain.HasStructured(questions),
	}
	var localAnswers map[domain.ID]domain.Answer
	var localFlags []domain.ID
	if snap != nil {
		state.hasLocal = true
		localAnswers = snap.Answers
		localFlags = snap.Flags
		if i := indexOf(questions, snap.CurrentQuestionID); i >= 0 {
			state.current = i
		}
		if state.structured && snap.Phase == domain.PhaseUpload {
			state.phase = domain.PhaseUpload
		}
		if snap.AntiCheat != nil {
			state.antiCheat = *snap.AntiCheat
		}
	}
	state.answers = mergeAnswers(resume.Answers, localAnswers)
	state.flags = mergeFlags(resume.FlaggedIDs(), localFlags)
	return state
}
