package round

import (
	"context"
	"errors"
	"strings"
	"time"

	"trivia-pot/internal/answers"
	"trivia-pot/internal/chat"
	"trivia-pot/internal/oracle"
	"trivia-pot/internal/settlement"

	"github.com/google/uuid"
)

const (
	jobDiscover  = "discover"
	jobBalance   = "balance"
	jobQuestion  = "question"
	jobArbitrate = "arbitrate"
	jobPayout    = "payout"

	reasonNoFunds = "pot balance too low"
)

var errNoQuestion = errors.New("oracle returned an empty question")

func newRoundID() string {
	return uuid.NewString()
}

// discover looks for paid players. Only one scan runs at a time; a request
// made while one is in flight is served by its result.
func (e *Engine) discover() {
	e.enter(AwaitingPlayers)
	if e.scanning {
		return
	}
	e.scanning = true
	e.spawn(jobDiscover, false, e.t.DiscoverTimeout, func(ctx context.Context) (func(), error) {
		found, err := e.deps.Discovery.Scan(ctx)
		if err != nil {
			// Players found before the scan aborted are already marked seen.
			return func() { e.admit(found) }, err
		}
		return func() { e.onScan(found) }, nil
	})
}

// admit merges found players into the lobby. Deposits are never dropped, even
// when the round has moved on since the scan started.
func (e *Engine) admit(found []string) {
	for _, p := range found {
		if p == "" || p == e.cfg.PotAddress {
			continue
		}
		e.lobby[p] = struct{}{}
	}
}

// onScan admits newly found players and starts a round once enough wait.
func (e *Engine) onScan(found []string) {
	e.admit(found)
	if e.round.State != AwaitingPlayers {
		return
	}
	if len(e.lobby) < MinPlayers {
		now := e.now()
		if e.lastWaitNotice.IsZero() || now.Sub(e.lastWaitNotice) >= e.t.WaitingNotice {
			e.lastWaitNotice = now
			e.say(msgWaiting(len(e.lobby), e.cfg.MinEntry, e.cfg.PotAddress))
		}
		e.schedule(e.t.RecheckDelay, e.discover)
		return
	}
	e.startRound()
}

func (e *Engine) startRound() {
	players := e.lobby
	e.lobby = make(map[string]struct{})
	e.round = Round{ID: e.deps.NewID(), State: e.round.State, Participants: players}
	e.enter(Countdown)
	e.log.Info("round starting", "round", e.round.ID, "players", len(players))

	pot := e.cfg.PotAddress
	e.spawn(jobBalance, true, e.t.BalanceTimeout, func(ctx context.Context) (func(), error) {
		bal, err := e.deps.Balances.Balance(ctx, pot)
		if err != nil {
			return nil, err
		}
		return func() { e.onPool(bal) }, nil
	})
}

// onPool fixes the prize pool for the rest of the round.
func (e *Engine) onPool(balance uint64) {
	e.round.Pool = balance
	e.round.Prize = balance / 2
	e.say(msgRoundOpen(len(e.round.Participants), e.round.Pool, e.round.Prize, e.t.Countdown))
	e.schedule(e.t.Countdown, e.openQuestion)
}

func (e *Engine) openQuestion() {
	e.spawn(jobQuestion, true, e.t.OracleTimeout, func(ctx context.Context) (func(), error) {
		q, err := e.deps.Oracle.Question(ctx)
		if err != nil {
			return nil, err
		}
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, errNoQuestion
		}
		return func() { e.onQuestion(q) }, nil
	})
}

func (e *Engine) onQuestion(q string) {
	e.enter(QuestionOpen)
	e.round.Question = q
	e.buf.Open()
	e.say(msgQuestion(q, e.t.AnswerWindow))
	e.schedule(e.t.AnswerWindow, e.onDeadline)
}

// onDeadline evaluates the answers, or keeps the question open when nobody
// has answered yet.
func (e *Engine) onDeadline() {
	if e.buf.Len() == 0 {
		e.say(msgQuestionStillOpen(e.round.Question))
		e.schedule(e.t.AnswerWindow, e.onDeadline)
		return
	}
	e.evaluate()
}

func (e *Engine) evaluate() {
	submitted := e.buf.Snapshot()
	e.buf.Close()
	e.enter(Evaluating)
	q := e.round.Question
	e.log.Info("evaluating answers", "round", e.round.ID, "answers", len(submitted))

	e.spawn(jobArbitrate, true, e.t.OracleTimeout, func(ctx context.Context) (func(), error) {
		v, err := e.deps.Oracle.Arbitrate(ctx, q, submitted)
		if err != nil {
			return nil, err
		}
		if v.NoWinner() {
			return func() { e.onVerdict(v, "", "") }, nil
		}
		text := answerOf(submitted, v.Winner)
		explanation, err := e.deps.Oracle.Explain(ctx, q, text)
		if err != nil {
			e.log.Info("no explanation for the winning answer", "err", err)
			explanation = ""
		}
		return func() { e.onVerdict(v, text, explanation) }, nil
	})
}

func answerOf(submitted []answers.Answer, identity string) string {
	for _, a := range submitted {
		if a.Identity == identity {
			return a.Text
		}
	}
	return ""
}

func (e *Engine) onVerdict(v oracle.Verdict, answer, explanation string) {
	if v.NoWinner() {
		e.log.Info("no winner", "round", e.round.ID)
		e.say(msgNoWinner(e.t.NextRoundDelay))
		e.finishRound(e.t.NextRoundDelay)
		return
	}
	e.round.Winner = v.Winner
	e.round.WinnerAnswer = answer
	e.round.Prize = e.round.Pool / 2
	e.round.ClaimDeadline = e.now().Add(e.t.ClaimWindow)
	e.enter(AwaitingClaim)
	e.log.Info("winner declared", "round", e.round.ID, "winner", v.Winner, "prize", e.round.Prize)
	e.say(msgWinner(v.Winner, e.round.Prize, explanation, e.t.ClaimWindow))
	e.schedule(e.t.ClaimWindow, e.claimTimeout)
}

func (e *Engine) onMessage(m chat.Message) {
	if m.ChatID != e.cfg.ChatID {
		return
	}
	if m.IsCommand() {
		switch m.Command() {
		case "skip":
			e.onSkip(m.Sender)
		case "status":
			e.say(msgStatus(e.snapshot()))
		}
		return
	}

	switch e.round.State {
	case QuestionOpen:
		at := m.At
		if at.IsZero() {
			at = e.now()
		}
		if e.buf.Record(m.Sender, m.Text, at) {
			e.log.Debug("answer recorded", "round", e.round.ID, "from", m.Sender)
		}
	case AwaitingClaim:
		if e.round.Winner == "" || m.Sender != e.round.Winner {
			return
		}
		addr := ExtractAddress(m.Text)
		if addr == "" {
			e.say(msgInvalidAddress(e.round.Winner))
			return
		}
		e.pay(addr)
	}
}

func (e *Engine) isAdmin(sender string) bool {
	admin := strings.TrimPrefix(strings.TrimSpace(e.cfg.AdminID), "@")
	return admin != "" && strings.EqualFold(admin, strings.TrimPrefix(sender, "@"))
}

func (e *Engine) onSkip(sender string) {
	if !e.isAdmin(sender) {
		e.say(msgNotAllowed)
		return
	}
	e.log.Info("admin skip", "state", e.round.State, "round", e.round.ID)
	switch e.round.State {
	case Evaluating, Paying:
		e.say(msgBusy)
	case Idle, AwaitingPlayers:
		e.discover()
	case QuestionOpen:
		if e.buf.Len() > 0 {
			e.evaluate()
			return
		}
		e.restartRound()
	default:
		e.restartRound()
	}
}

// restartRound abandons the current round. Its players go back to the lobby
// so they are part of the next one.
func (e *Engine) restartRound() {
	e.returnPlayers()
	e.resetRound()
	e.buf.Close()
	e.discover()
}

// resetRound drops the round but keeps its state until the next enter.
func (e *Engine) resetRound() {
	e.round = Round{State: e.round.State, Participants: map[string]struct{}{}}
}

func (e *Engine) returnPlayers() {
	for p := range e.round.Participants {
		e.lobby[p] = struct{}{}
	}
}

func (e *Engine) pay(addr string) {
	pinned := e.round.Destination != ""
	if pinned && addr != e.round.Destination {
		e.log.Info("payout destination already fixed", "round", e.round.ID, "requested", addr, "using", e.round.Destination)
		addr = e.round.Destination
	}
	e.enter(Paying)
	roundID, prize, pot, reserve := e.round.ID, e.round.Prize, e.cfg.PotAddress, e.cfg.FeeReserve
	e.log.Info("paying winner", "round", roundID, "to", addr, "prize", prize)

	e.spawn(jobPayout, true, 0, func(ctx context.Context) (func(), error) {
		amount := prize
		// A pinned destination already has a transfer on the ledger with its own amount.
		if !pinned {
			balCtx, cancel := context.WithTimeout(ctx, e.t.BalanceTimeout)
			bal, err := e.deps.Balances.Balance(balCtx, pot)
			cancel()
			if err != nil {
				e.log.Error("cannot read pot balance before payout", "err", err)
				return func() { e.onPaid(addr, 0, settlement.Result{Reason: settlement.ReasonSubmitFailed}) }, nil
			}
			amount = capPrize(prize, bal, reserve)
			if amount == 0 {
				return func() { e.onPaid(addr, 0, settlement.Result{Reason: reasonNoFunds}) }, nil
			}
		}
		res := e.deps.Settler.Pay(ctx, roundID, addr, amount)
		return func() { e.onPaid(addr, amount, res) }, nil
	})
}

// capPrize limits the prize to what the pot can pay after fees.
func capPrize(prize, balance, reserve uint64) uint64 {
	if balance <= reserve {
		return 0
	}
	if avail := balance - reserve; prize > avail {
		return avail
	}
	return prize
}

func (e *Engine) onPaid(addr string, amount uint64, res settlement.Result) {
	if res.Amount > 0 {
		amount = res.Amount
	}
	if res.Confirmed {
		if amount > e.highest {
			e.highest = amount
		}
		e.log.Info("payout confirmed", "round", e.round.ID, "to", addr, "amount", amount, "sig", res.Signature)
		e.round.Winner = ""
		e.say(msgPaid(amount, addr, res.Signature, e.t.NextRoundDelay))
		e.finishRound(e.t.NextRoundDelay)
		return
	}

	e.log.Error("payout failed", "round", e.round.ID, "to", addr, "reason", res.Reason, "sig", res.Signature)
	if res.Signature != "" {
		e.round.Destination = addr
	}
	e.say(msgPayoutDelayed(e.round.Winner))
	e.enter(AwaitingClaim)
	remaining := e.round.ClaimDeadline.Sub(e.now())
	if remaining < 0 {
		remaining = 0
	}
	e.schedule(remaining, e.claimTimeout)
}

func (e *Engine) claimTimeout() {
	if e.round.State != AwaitingClaim {
		return
	}
	winner := e.round.Winner
	e.round.Winner = ""
	e.log.Info("claim window expired", "round", e.round.ID, "winner", winner)
	e.say(msgForfeit(winner))
	e.resetRound()
	e.discover()
}

// finishRound ends the round and starts discovery after delay.
func (e *Engine) finishRound(delay time.Duration) {
	e.resetRound()
	e.buf.Close()
	e.enter(Idle)
	e.schedule(delay, e.discover)
}

// fail abandons whatever was in progress and retries discovery after the
// error backoff. Players of an abandoned round keep their place.
func (e *Engine) fail(step string, err error) {
	e.log.Error("round step failed", "step", step, "state", e.round.State, "round", e.round.ID, "err", err)
	inRound := e.round.State != AwaitingPlayers && e.round.State != Idle
	e.returnPlayers()
	e.resetRound()
	e.buf.Close()
	e.enter(AwaitingPlayers)
	if inRound {
		e.say(msgTrouble)
	}
	e.schedule(e.t.ErrorBackoff, e.discover)
}
