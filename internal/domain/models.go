package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ID is a server identifier. The API emits both numbers and strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "mcq"
	QuestionMultiChoice  QuestionType = "multi"
	QuestionFillBlank    QuestionType = "fib"
	// QuestionStructured is answered on paper and submitted as an uploaded file.
	QuestionStructured QuestionType = "structured"
)

// ParseQuestionType normalizes the API's type names; unknown types fall back to single choice.
func ParseQuestionType(raw string) QuestionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "multi":
		return QuestionMultiChoice
	case "fib":
		return QuestionFillBlank
	case "structured", "struct":
		return QuestionStructured
	default:
		return QuestionSingleChoice
	}
}

func (t *QuestionType) UnmarshalText(text []byte) error {
	*t = ParseQuestionType(string(text))
	return nil
}

// Question is the immutable, session-scoped view of an exam question.
type Question struct {
	ID            ID                `json:"id"`
	Prompt        string            `json:"statement"`
	Type          QuestionType      `json:"type"`
	Choices       map[string]string `json:"choices"`
	Marks         float64           `json:"marks"`
	EstimatedTime int               `json:"time_est"`
	ImageURL      string            `json:"image"`
}

// IsStructured reports whether the question is answered through the upload channel.
func (q Question) IsStructured() bool {
	return q.Type == QuestionStructured
}

// ChoiceLabels returns the choice labels in display order.
func (q Question) ChoiceLabels() []string {
	labels := make([]string, 0, len(q.Choices))
	for label := range q.Choices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// MarksOrDefault returns the question's marks, defaulting to 1.
func (q Question) MarksOrDefault() float64 {
	if q.Marks <= 0 {
		return 1
	}
	return q.Marks
}

// HasStructured reports whether any question is essay-type.
func HasStructured(questions []Question) bool {
	for _, q := range questions {
		if q.IsStructured() {
			return true
		}
	}
	return false
}

// Exam is the metadata served by GET exams/{id}/.
type Exam struct {
	ID              ID      `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Level           string  `json:"level"`
	PaperNumber     *int    `json:"paper_number"`
	DurationSeconds int     `json:"duration_seconds"`
	TotalMarks      float64 `json:"total_marks"`
	Instructions    string  `json:"instructions"`
	TopicName       string  `json:"topic_name"`
}

// Duration returns the exam's configured length.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

// Answer holds a question's answer values: one label for single choice, any
// number of labels for multi choice, one string for fill-in-blank.
// It encodes as a JSON string when it holds a single value.
type Answer []string

// Empty reports whether the answer carries no non-blank value.
func (a Answer) Empty() bool {
	for _, v := range a {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Equal compares answers value by value.
func (a Answer) Equal(other Answer) bool {
	if len(a) != len(other) {
		return false
	}
	for i := range a {
		if a[i] != other[i] {
			return false
		}
	}
	return true
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch len(a) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON accepts strings, numbers, arrays, null and the server's
// stored payload shapes {"answers": [...]} and {"answer": x}.
func (a *Answer) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	values, err := answerValues(raw)
	if err != nil {
		return err
	}
	*a = values
	return nil
}

func answerValues(raw any) (Answer, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return Answer{v}, nil
	case json.Number:
		return Answer{v.String()}, nil
	case bool:
		return Answer{strconv.FormatBool(v)}, nil
	case []any:
		out := make(Answer, 0, len(v))
		for _, item := range v {
			values, err := answerValues(item)
			if err != nil {
				return nil, err
			}
			out = append(out, values...)
		}
		return out, nil
	case map[string]any:
		if inner, ok := v["answers"]; ok {
			return answerValues(inner)
		}
		if inner, ok := v["answer"]; ok {
			return answerValues(inner)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("decode answer: unsupported value %T", raw)
}
