// Package oracle generates trivia questions and judges the answers.
package oracle

import (
	"context"

	"trivia-pot/internal/answers"
)

// Verdict is the outcome of arbitration. An empty Winner means nobody was right.
type Verdict struct {
	Winner string
}

func (v Verdict) NoWinner() bool { return v.Winner == "" }

// Oracle is the natural-language service behind the contest.
type Oracle interface {
	Question(ctx context.Context) (string, error)
	Arbitrate(ctx context.Context, question string, submitted []answers.Answer) (Verdict, error)
	Explain(ctx context.Context, question, answer string) (string, error)
}
