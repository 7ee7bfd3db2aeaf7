// Package round runs the trivia contest: it finds players, asks the question,
// collects answers, has them judged and pays the winner.
package round

import (
	"sort"
	"time"
)

type State int

const (
	Idle State = iota
	AwaitingPlayers
	Countdown
	QuestionOpen
	Evaluating
	AwaitingClaim
	Paying
)

func (s State) String() string {
	switch s {
	case AwaitingPlayers:
		return "AWAITING_PLAYERS"
	case Countdown:
		return "COUNTDOWN"
	case QuestionOpen:
		return "QUESTION_OPEN"
	case Evaluating:
		return "EVALUATING"
	case AwaitingClaim:
		return "AWAITING_CLAIM"
	case Paying:
		return "PAYING"
	default:
		return "IDLE"
	}
}

// MinPlayers is the number of participants needed to start a round.
const MinPlayers = 2

// Round is the contest in progress. Only the engine goroutine touches it.
type Round struct {
	ID            string
	State         State
	Question      string
	Pool          uint64 // pot balance when the round opened, never re-read
	Prize         uint64
	Participants  map[string]struct{}
	Winner        string
	WinnerAnswer  string
	ClaimDeadline time.Time
	// Destination is fixed by the first payout attempt that reached the
	// ledger; later claims in the same round reuse it.
	Destination string
}

func (r *Round) participantList() []string {
	out := make([]string, 0, len(r.Participants))
	for p := range r.Participants {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Timings are the fixed delays of the contest.
type Timings struct {
	RecheckDelay    time.Duration // between player scans while waiting
	WaitingNotice   time.Duration // minimum gap between "waiting for players" notices
	Countdown       time.Duration // round announced -> question
	AnswerWindow    time.Duration // question -> evaluation
	NextRoundDelay  time.Duration
	ClaimWindow     time.Duration
	ErrorBackoff    time.Duration
	AnswerMaxAge    time.Duration
	EvictEvery      time.Duration
	SendTimeout     time.Duration
	BalanceTimeout  time.Duration
	OracleTimeout   time.Duration
	DiscoverTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		RecheckDelay:    60 * time.Second,
		WaitingNotice:   5 * time.Minute,
		Countdown:       60 * time.Second,
		AnswerWindow:    10 * time.Minute,
		NextRoundDelay:  60 * time.Second,
		ClaimWindow:     5 * time.Minute,
		ErrorBackoff:    10 * time.Second,
		AnswerMaxAge:    15 * time.Minute,
		EvictEvery:      time.Minute,
		SendTimeout:     15 * time.Second,
		BalanceTimeout:  30 * time.Second,
		OracleTimeout:   3 * time.Minute,
		DiscoverTimeout: 2 * time.Minute,
	}
}

// Status is a read-only snapshot of the engine for dashboards and /status.
type Status struct {
	State         State
	RoundID       string
	Question      string
	Pool          uint64
	Prize         uint64
	Participants  []string
	Lobby         int
	Answers       int
	Winner        string
	ClaimDeadline time.Time
	Highest       uint64
	UpdatedAt     time.Time
}
