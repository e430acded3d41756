package cli

import "jlpt-exam-service/internal/domain"

// sampleExams serves a small N5 exam when no database is configured.
func sampleExams() map[string]domain.Exam {
	q := func(id, typ, content string, order int, options ...domain.Option) domain.Question {
		return domain.Question{ID: id, TestID: "n5-sample", Type: typ, Content: content, OrderIndex: order, Options: options}
	}
	opt := func(id, content string, correct bool) domain.Option {
		return domain.Option{ID: id, Content: content, Correct: correct}
	}

	return map[string]domain.Exam{
		"n5-sample": {
			Test: domain.Test{ID: "n5-sample", Title: "N5 Sample Mock Test", Level: "N5", DurationMin: 30, TotalScore: 180},
			Questions: []domain.Question{
				q("n5-q1", "VOCAB", "「やま」の かんじは どれですか。", 1,
					opt("n5-q1-a", "川", false), opt("n5-q1-b", "山", true), opt("n5-q1-c", "田", false), opt("n5-q1-d", "口", false)),
				q("n5-q2", "GRAMMAR", "わたしは まいあさ パン（　）たべます。", 2,
					opt("n5-q2-a", "を", true), opt("n5-q2-b", "に", false), opt("n5-q2-c", "で", false), opt("n5-q2-d", "が", false)),
				q("n5-q3", "READING", "たなかさんは なんじに おきますか。", 3,
					opt("n5-q3-a", "６じ", false), opt("n5-q3-b", "７じ", true), opt("n5-q3-c", "８じ", false), opt("n5-q3-d", "９じ", false)),
				q("n5-q4", "LISTENING", "おとこのひとは どこへ いきますか。", 4,
					opt("n5-q4-a", "えき", false), opt("n5-q4-b", "がっこう", false), opt("n5-q4-c", "ぎんこう", true), opt("n5-q4-d", "びょういん", false)),
			},
		},
	}
}
