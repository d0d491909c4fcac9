package app

import (
	"encoding/json"
	"testing"

	"mentara-client/internal/domain"
	"pgregory.net/rapid"
)

func genAnswers() *rapid.Generator[map[domain.ID]domain.Answer] {
	id := rapid.Custom(func(t *rapid.T) domain.ID {
		return domain.ID(rapid.SampledFrom([]string{"1", "2", "3", "4", "5", "6"}).Draw(t, "id"))
	})
	answer := rapid.Custom(func(t *rapid.T) domain.Answer {
		return domain.Answer(rapid.SliceOfN(rapid.SampledFrom([]string{"A", "B", "C", "D"}), 1, 3).Draw(t, "values"))
	})
	return rapid.MapOf(id, answer)
}

func TestMergeAnswersLocalWinsPerKey(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		server := genAnswers().Draw(t, "server")
		local := genAnswers().Draw(t, "local")

		merged := mergeAnswers(server, local)

		for id, want := range local {
			if !merged[id].Equal(want) {
				t.Fatalf("key %s: expected local %v, got %v", id, want, merged[id])
			}
		}
		for id, want := range server {
			if _, ok := local[id]; ok {
				continue
			}
			if !merged[id].Equal(want) {
				t.Fatalf("key %s: expected server %v, got %v", id, want, merged[id])
			}
		}
		for id := range merged {
			_, inServer := server[id]
			_, inLocal := local[id]
			if !inServer && !inLocal {
				t.Fatalf("key %s came from nowhere", id)
			}
		}
	})
}

func TestMergeFlagsIsUnion(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pick := rapid.SliceOf(rapid.SampledFrom([]domain.ID{"1", "2", "3", "4"}))
		server := pick.Draw(t, "server")
		local := pick.Draw(t, "local")

		merged := mergeFlags(server, local)

		for _, id := range append(append([]domain.ID(nil), server...), local...) {
			if _, ok := merged[id]; !ok {
				t.Fatalf("flag %s lost in merge", id)
			}
		}
		if len(merged) > len(server)+len(local) {
			t.Fatalf("merge invented flags: %v", merged)
		}
	})
}

func TestRestoreExample(t *testing.T) {
	questions := []domain.Question{{ID: "qA"}, {ID: "qB"}, {ID: "q1"}, {ID: "q2"}}
	resume := domain.ResumeState{
		Answers: map[domain.ID]domain.Answer{"qA": {"X"}},
		Flagged: map[domain.ID]bool{"q1": true},
	}
	snap := &domain.Snapshot{
		Answers:           map[domain.ID]domain.Answer{"qA": {"Y"}, "qB": {"Z"}},
		Flags:             []domain.ID{"q2"},
		CurrentQuestionID: "qB",
		Phase:             domain.PhaseUpload,
	}

	state := restore(questions, resume, snap)

	if !state.answers["qA"].Equal(domain.Answer{"Y"}) || !state.answers["qB"].Equal(domain.Answer{"Z"}) || len(state.answers) != 2 {
		t.Fatalf("unexpected answers %v", state.answers)
	}
	if len(state.flags) != 2 {
		t.Fatalf("expected flags {q1,q2}, got %v", state.flags)
	}
	if state.current != 1 {
		t.Fatalf("expected index of qB, got %d", state.current)
	}
	if state.phase != domain.PhaseQuestions {
		t.Fatalf("upload phase must not be restored for a non-structured exam")
	}
}

func TestRestoreClearedLocalAnswerOverridesServer(t *testing.T) {
	questions := []domain.Question{{ID: "1"}, {ID: "2"}}
	resume := domain.ResumeState{Answers: map[domain.ID]domain.Answer{"1": {"A"}, "2": {"B"}}}
	saved := domain.Snapshot{Answers: map[domain.ID]domain.Answer{"1": {}}}

	raw, err := json.Marshal(saved)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if _, ok := snap.Answers["1"]; !ok {
		t.Fatalf("cleared key dropped from snapshot %s", raw)
	}

	state := restore(questions, resume, &snap)

	if got, ok := state.answers["1"]; !ok || !got.Empty() {
		t.Fatalf("expected cleared answer for 1, got %v (present=%v)", got, ok)
	}
	if !state.answers["2"].Equal(domain.Answer{"B"}) {
		t.Fatalf("expected server answer for 2, got %v", state.answers["2"])
	}
}

func TestBuildSubmissionShapes(t *testing.T) {
	questions := []domain.Question{
		{ID: "1", Type: domain.QuestionSingleChoice},
		{ID: "2", Type: domain.QuestionStructured},
		{ID: "3", Type: domain.QuestionFillBlank},
	}
	sub := buildSubmission("41", questions, map[domain.ID]domain.Answer{"1": {"C"}, "2": {"ignored"}, "3": {"  "}})

	if sub.AttemptID != "41" || len(sub.Responses) != 3 {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if got := sub.Responses[0].Payload.Answers; len(got) != 1 || got[0] != "C" {
		t.Fatalf("expected [C], got %v", got)
	}
	if sub.Responses[1].Payload != nil {
		t.Fatalf("essay entry must have a nil payload")
	}
	if got := sub.Responses[2].Payload.Answers; got == nil || len(got) != 0 {
		t.Fatalf("blank answer must become an empty list, got %#v", got)
	}
}
