// Package scoring grades a complete answer set against an exam definition.
//
// Scores are kept at full floating precision; rounding is left to presentation.
package scoring

import "jlpt-exam-service/internal/domain"

// Grade is the outcome of scoring one answer set.
type Grade struct {
	TotalQuestions int
	Answered       int
	CorrectCount   int
	TotalScore     float64
	MaxScore       float64
	PassScore      float64
	Passed         bool
	Sections       map[domain.Section]domain.SectionScore
	// Answers holds one snapshot per question of the exam, in exam order.
	Answers []domain.AttemptAnswer
}

// Engine applies a Policy to answer sets.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Grade scores answers (questionID -> optionID) against exam. Unanswered questions
// count as incorrect; answers to questions outside the exam are ignored.
func (e *Engine) Grade(exam domain.Exam, answers map[string]string) Grade {
	lp := e.policy.ForLevel(exam.Test.Level)
	total := exam.Test.TotalScore

	sections := make(map[domain.Section]domain.SectionScore, len(domain.Sections))
	for _, s := range domain.Sections {
		sections[s] = domain.SectionScore{MaxScore: lp.MaxScore(s, total)}
	}

	g := Grade{
		TotalQuestions: len(exam.Questions),
		MaxScore:       total,
		PassScore:      lp.PassScore(total),
		Answers:        make([]domain.AttemptAnswer, 0, len(exam.Questions)),
	}

	for _, q := range exam.Questions {
		section := q.Section()
		ss := sections[section]
		ss.Total++

		snap := domain.AttemptAnswer{
			QuestionID:      q.ID,
			Section:         section,
			OrderIndex:      q.OrderIndex,
			CorrectOptionID: q.CorrectOptionID(),
		}
		if selected, ok := answers[q.ID]; ok && selected != "" {
			sel := selected
			snap.SelectedOptionID = &sel
			snap.Correct = snap.CorrectOptionID != "" && selected == snap.CorrectOptionID
			g.Answered++
		}
		if snap.Correct {
			ss.Correct++
			g.CorrectCount++
		}
		sections[section] = ss
		g.Answers = append(g.Answers, snap)
	}

	for s, ss := range sections {
		ss.Score = ratio(ss.MaxScore, ss.Correct, ss.Total)
		sections[s] = ss
	}
	g.Sections = sections
	g.TotalScore = ratio(total, g.CorrectCount, g.TotalQuestions)
	g.Passed = g.TotalQuestions > 0 && g.TotalScore >= g.PassScore
	return g
}

// ratio is ceiling*correct/count, or 0 for an empty group.
func ratio(ceiling float64, correct, count int) float64 {
	if count == 0 {
		return 0
	}
	return ceiling * float64(correct) / float64(count)
}
