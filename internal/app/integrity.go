package app

import (
	"fmt"

	"mentara-client/internal/domain"
)

// guardActive reports whether the attempt view should be pinned.
func (s *Session) guardActive() bool {
	return s.attemptID != "" && s.remaining > 0 && s.status == domain.StatusActive
}

func (s *Session) integrityActive() bool {
	return s.guardActive() && !s.struckOut
}

// handleIntegrity counts one strike per qualifying event and forces a
// submission once the limit is reached.
func (s *Session) handleIntegrity(kind domain.IntegrityKind) {
	if !kind.Valid() || !s.integrityActive() {
		return
	}
	now := s.clock.Now().UTC()
	s.antiCheat.Strikes++
	s.antiCheat.LastReason = kind
	s.antiCheat.LastAt = &now
	s.persist()

	s.log.Warn().Str("reason", string(kind)).Int("strikes", s.antiCheat.Strikes).Msg("integrity strike")

	limit := s.settings.MaxStrikes
	if s.antiCheat.Strikes < limit {
		s.presenter.Notify(domain.Notice{
			Level:   domain.NoticeWarning,
			Message: fmt.Sprintf("Warning %d of %d: %s. Stay on the exam to avoid automatic submission.", s.antiCheat.Strikes, limit, kind.Describe()),
		})
		return
	}

	s.struckOut = true
	s.presenter.Notify(domain.Notice{
		Level:   domain.NoticeError,
		Message: fmt.Sprintf("Final warning: %s. Your exam will be submitted now.", kind.Describe()),
	})
	if s.settings.ForceSubmitDelay <= 0 {
		s.forceSubmit("strikes")
		return
	}
	s.forceTimer = s.clock.NewTimer(s.settings.ForceSubmitDelay)
}

// handleBack keeps the user on the attempt; it never counts as a strike.
func (s *Session) handleBack() {
	if !s.guardActive() {
		return
	}
	s.presenter.HoldRoute()
	s.presenter.Notify(domain.Notice{Level: domain.NoticeInfo, Message: "Back navigation is disabled during the exam."})
}
