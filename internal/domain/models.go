package domain

import "time"

// Section groups questions by skill area for weighted sub-scoring.
type Section string

const (
	SectionGrammarVocab Section = "GRAMMAR_VOCAB"
	SectionReading      Section = "READING"
	SectionListening    Section = "LISTENING"
)

// Sections lists every section in display order.
var Sections = []Section{SectionGrammarVocab, SectionReading, SectionListening}

// SectionOf derives the scoring section from a question type. Grammar and vocabulary
// share one section; anything unrecognised is scored with them.
func SectionOf(questionType string) Section {
	switch questionType {
	case "READING":
		return SectionReading
	case "LISTENING":
		return SectionListening
	default:
		return SectionGrammarVocab
	}
}

// ParseSection accepts a section name or a question type.
func ParseSection(raw string) (Section, bool) {
	switch raw {
	case string(SectionGrammarVocab), "GRAMMAR", "VOCAB":
		return SectionGrammarVocab, true
	case string(SectionReading):
		return SectionReading, true
	case string(SectionListening):
		return SectionListening, true
	}
	return "", false
}

// Test is the immutable header of an exam definition.
type Test struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Level       string  `json:"level"`
	DurationMin int     `json:"durationMin"`
	TotalScore  float64 `json:"totalScore"`
}

// Duration is the length of one session window.
func (t Test) Duration() time.Duration {
	return time.Duration(t.DurationMin) * time.Minute
}

// Option is a possible answer; exactly one per question is correct.
type Option struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Correct bool   `json:"correct"`
}

// Question is read-only exam content.
type Question struct {
	ID         string   `json:"id"`
	TestID     string   `json:"testId"`
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	OrderIndex int      `json:"orderIndex"`
	Options    []Option `json:"options"`
}

// Section is derived from the question type.
func (q Question) Section() Section {
	return SectionOf(q.Type)
}

// CorrectOptionID returns the id of the option flagged correct, or "" if none is.
func (q Question) CorrectOptionID() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Exam is a fully hydrated exam definition: the test and its questions ordered by OrderIndex.
type Exam struct {
	Test      Test       `json:"test"`
	Questions []Question `json:"questions"`
}

// Question looks up a question of this exam by id.
func (e Exam) Question(questionID string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return Question{}, false
}

// Session marks a user's in-progress attempt at a test.
type Session struct {
	UserID    string
	TestID    string
	StartedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the window has lapsed. The expiry instant itself counts as expired.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CurrentAnswer is the working answer for one question while a session is active.
type CurrentAnswer struct {
	UserID           string
	TestID           string
	QuestionID       string
	SelectedOptionID string
	UpdatedAt        time.Time
}

// SectionScore is the sub-score of a single section.
type SectionScore struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"maxScore"`
}

// Attempt is the immutable graded record of one submitted exam.
type Attempt struct {
	ID             string                   `json:"id"`
	TestID         string                   `json:"testId"`
	UserID         string                   `json:"userId"`
	Level          string                   `json:"level"`
	StartedAt      time.Time                `json:"startedAt"`
	SubmittedAt    time.Time                `json:"submittedAt"`
	TotalQuestions int                      `json:"totalQuestions"`
	CorrectCount   int                      `json:"correctCount"`
	TotalScore     float64                  `json:"totalScore"`
	MaxScore       float64                  `json:"maxScore"`
	PassScore      float64                  `json:"passScore"`
	Passed         bool                     `json:"passed"`
	Sections       map[Section]SectionScore `json:"sections"`
	Answers        []AttemptAnswer          `json:"answers,omitempty"`
}

// AttemptAnswer is the per-question snapshot of an attempt. SelectedOptionID is nil when unanswered.
type AttemptAnswer struct {
	QuestionID       string  `json:"questionId"`
	Section          Section `json:"section"`
	OrderIndex       int     `json:"orderIndex"`
	SelectedOptionID *string `json:"selectedOptionId"`
	CorrectOptionID  string  `json:"correctOptionId"`
	Correct          bool    `json:"correct"`
}

// OptionView is an option as shown to a test-taker, without its correctness flag.
type OptionView struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// QuestionView is a question as shown to a test-taker.
type QuestionView struct {
	ID               string       `json:"id"`
	Section          Section      `json:"section"`
	Type             string       `json:"type"`
	Content          string       `json:"content"`
	OrderIndex       int          `json:"orderIndex"`
	Options          []OptionView `json:"options"`
	SelectedOptionID string       `json:"selectedOptionId,omitempty"`
}

// NewQuestionView strips correctness flags from q.
func NewQuestionView(q Question) QuestionView {
	opts := make([]OptionView, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, OptionView{ID: o.ID, Content: o.Content})
	}
	return QuestionView{
		ID:         q.ID,
		Section:    q.Section(),
		Type:       q.Type,
		Content:    q.Content,
		OrderIndex: q.OrderIndex,
		Options:    opts,
	}
}

// SessionView is returned by StartOrResume.
type SessionView struct {
	TestID    string            `json:"testId"`
	StartedAt time.Time         `json:"startedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Resumed   bool              `json:"resumed"`
	Test      Test              `json:"test"`
	Questions []QuestionView    `json:"questions"`
	Answers   map[string]string `json:"answers"`
}

// Result is a graded answer set, either a preview of a working session or the outcome of a submit.
type Result struct {
	AttemptID      string                   `json:"attemptId,omitempty"`
	TestID         string                   `json:"testId"`
	Level          string                   `json:"level"`
	TotalQuestions int                      `json:"totalQuestions"`
	Answered       int                      `json:"answered"`
	CorrectCount   int                      `json:"correctCount"`
	TotalScore     float64                  `json:"totalScore"`
	MaxScore       float64                  `json:"maxScore"`
	PassScore      float64                  `json:"passScore"`
	Passed         bool                     `json:"passed"`
	Sections       map[Section]SectionScore `json:"sections"`
	StartedAt      time.Time                `json:"startedAt"`
	ExpiresAt      *time.Time               `json:"expiresAt,omitempty"`
	SubmittedAt    *time.Time               `json:"submittedAt,omitempty"`
}

// AttemptSummary is one row of a user's history for a test.
type AttemptSummary struct {
	ID             string    `json:"id"`
	TestID         string    `json:"testId"`
	StartedAt      time.Time `json:"startedAt"`
	SubmittedAt    time.Time `json:"submittedAt"`
	TotalQuestions int       `json:"totalQuestions"`
	CorrectCount   int       `json:"correctCount"`
	TotalScore     float64   `json:"totalScore"`
	Passed         bool      `json:"passed"`
}

// Summary drops the per-question snapshot.
func (a Attempt) Summary() AttemptSummary {
	return AttemptSummary{
		ID:             a.ID,
		TestID:         a.TestID,
		StartedAt:      a.StartedAt,
		SubmittedAt:    a.SubmittedAt,
		TotalQuestions: a.TotalQuestions,
		CorrectCount:   a.CorrectCount,
		TotalScore:     a.TotalScore,
		Passed:         a.Passed,
	}
}
