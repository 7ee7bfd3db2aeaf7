package round

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"trivia-pot/internal/chat"
	"trivia-pot/internal/ledger"
	"trivia-pot/internal/oracle"
	"trivia-pot/internal/settlement"

	"github.com/stretchr/testify/require"
)

func TestRoundOpensWithTwoPlayers(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.start(t)

	h.waitState(t, Countdown)
	h.waitSaid(t, "Prize pool: 0.2 SOL. The winner takes 0.1 SOL.")
	require.Eventually(t, func() bool { return h.e.Status().Pool > 0 }, waitFor, tick)
	st := h.e.Status()
	require.Equal(t, uint64(200_000_000), st.Pool)
	require.Equal(t, uint64(100_000_000), st.Prize)
	require.ElementsMatch(t, []string{"alice", "bob"}, st.Participants)
	require.Zero(t, st.Lobby)
}

func TestWaitsForSecondPlayer(t *testing.T) {
	h := newHarness([]string{"alice"})
	h.start(t)

	h.waitSaid(t, "Waiting for players (1/2)")
	require.Eventually(t, func() bool { return h.e.Status().Lobby == 1 }, waitFor, tick)
	require.Equal(t, AwaitingPlayers, h.e.Status().State)

	// The re-check scans again but does not repeat the notice.
	h.sched.fire(t, h.t.RecheckDelay)
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	h.sched.fire(t, h.t.RecheckDelay)
	require.Eventually(t, func() bool { return h.scanner.count() == 3 }, waitFor, tick)
	require.Equal(t, 1, h.chat.count("Waiting for players"))
	require.Equal(t, AwaitingPlayers, h.e.Status().State)
}

func TestPlayersAccumulateAcrossScans(t *testing.T) {
	h := newHarness([]string{"alice"}, []string{"alice", potAddr}, []string{"bob"})
	h.start(t)

	h.waitSaid(t, "Waiting for players (1/2)")
	h.sched.fire(t, h.t.RecheckDelay)
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	h.sched.fire(t, h.t.RecheckDelay)

	h.waitState(t, Countdown)
	require.ElementsMatch(t, []string{"alice", "bob"}, h.e.Status().Participants)
}

func TestAbortedScanKeepsFoundPlayers(t *testing.T) {
	h := newHarness([]string{"alice"}, []string{"bob"})
	h.scanner.errs = []error{context.DeadlineExceeded}
	h.start(t)

	// alice was reported before the scan gave up.
	require.Eventually(t, func() bool { return h.e.Status().Lobby == 1 }, waitFor, tick)
	require.Equal(t, AwaitingPlayers, h.e.Status().State)
	require.Zero(t, h.chat.count("Something went wrong"))

	h.sched.fire(t, h.t.ErrorBackoff)
	h.waitState(t, Countdown)
	require.ElementsMatch(t, []string{"alice", "bob"}, h.e.Status().Participants)
}

func TestUnansweredQuestionStaysOpen(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.openQuestion(t)
	h.waitSaid(t, "What is the capital of France?")

	h.sched.fire(t, h.t.AnswerWindow)
	h.waitSaid(t, "No answers yet")
	require.Equal(t, 2, h.chat.count("What is the capital of France?"))
	require.Equal(t, QuestionOpen, h.e.Status().State)

	// The same deadline is armed again.
	require.Eventually(t, func() bool {
		tm := h.sched.pending()
		return tm != nil && tm.d == h.t.AnswerWindow
	}, waitFor, tick)
	asked, judged := h.oracle.counts()
	require.Equal(t, 1, asked)
	require.Zero(t, judged)
}

func TestOneAnswerPerPlayer(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.openQuestion(t)

	h.send("@alice", "Paris")
	h.send("@alice", "Lyon")
	h.send("@bob", "Marseille")
	require.Eventually(t, func() bool { return h.e.Status().Answers == 2 }, waitFor, tick)

	h.sched.fire(t, h.t.AnswerWindow)
	require.Eventually(t, func() bool { _, judged := h.oracle.counts(); return judged == 1 }, waitFor, tick)
	h.oracle.mu.Lock()
	defer h.oracle.mu.Unlock()
	require.Len(t, h.oracle.submitted, 2)
	require.Equal(t, "Paris", h.oracle.submitted[0].Text)
}

func TestNoWinnerStartsNextRound(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.openQuestion(t)
	h.send("@alice", "Lyon")
	require.Eventually(t, func() bool { return h.e.Status().Answers == 1 }, waitFor, tick)

	h.sched.fire(t, h.t.AnswerWindow)
	h.waitSaid(t, "No correct answers")
	h.waitState(t, Idle)
	require.Empty(t, h.e.Status().Participants)

	h.sched.fire(t, h.t.NextRoundDelay)
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	h.waitState(t, AwaitingPlayers)
}

// scriptedChain serves the pot balance and confirms transfers after one
// pending poll.
type scriptedChain struct {
	mu      sync.Mutex
	balance uint64
	submits []string
	polls   int
}

func (c *scriptedChain) RecentSignatures(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func (c *scriptedChain) Transaction(context.Context, string) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}

func (c *scriptedChain) Balance(context.Context, string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *scriptedChain) SubmitTransfer(_ context.Context, to string, _ uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits = append(c.submits, to)
	return "5sig", nil
}

func (c *scriptedChain) SignatureStatus(context.Context, string) (ledger.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.polls == 1 {
		return ledger.StatusPending, nil
	}
	return ledger.StatusConfirmed, nil
}

func TestWinnerClaimIsPaidOnce(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	chain := &scriptedChain{balance: 200_000_000}
	journal, err := settlement.OpenFileJournal(filepath.Join(t.TempDir(), "payouts.json"))
	require.NoError(t, err)
	settler := settlement.NewSettler(chain, journal,
		settlement.WithSleep(func(context.Context, time.Duration) error { return nil }))

	deps := h.deps()
	deps.Balances = chain
	deps.Settler = settler
	h.oracle.verdict = oracle.Verdict{Winner: "@bob"}
	h.startWith(t, h.settings(), deps)
	h.waitState(t, Countdown)
	h.sched.fire(t, h.t.Countdown)
	h.waitState(t, QuestionOpen)
	h.send("@bob", "Paris")
	require.Eventually(t, func() bool { return h.e.Status().Answers == 1 }, waitFor, tick)
	h.sched.fire(t, h.t.AnswerWindow)
	h.waitState(t, AwaitingClaim)
	h.waitSaid(t, "@bob wins 0.1 SOL")
	require.Equal(t, "@bob", h.e.Status().Winner)

	h.send("@bob", "here you go: "+bobAddr)
	h.waitSaid(t, "Sent 0.1 SOL to "+bobAddr)
	h.waitState(t, Idle)

	st := h.e.Status()
	require.Empty(t, st.Winner)
	require.Equal(t, uint64(100_000_000), st.Highest)
	chain.mu.Lock()
	require.Equal(t, []string{bobAddr}, chain.submits)
	chain.mu.Unlock()

	rec, err := journal.Lookup(context.Background(), "round-1", bobAddr)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeConfirmed, rec.Outcome)
	require.Equal(t, uint64(100_000_000), rec.Amount)

	// A late message from the former winner starts nothing.
	h.send("@bob", bobAddr)
	require.Never(t, func() bool { return h.e.Status().State == Paying }, 100*time.Millisecond, tick)
}

func TestUnclaimedPrizeIsForfeited(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.declareWinner(t)

	h.sched.fire(t, h.t.ClaimWindow)
	h.waitSaid(t, "@bob did not claim the prize in time")
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	h.waitState(t, AwaitingPlayers)
	require.Empty(t, h.e.Status().Winner)
	require.Empty(t, h.payer.paid())
}

func TestInvalidAddressPromptsAgain(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.declareWinner(t)

	h.send("@bob", "my wallet is 0x1234")
	h.waitSaid(t, "does not look like a Solana wallet address")
	require.Equal(t, AwaitingClaim, h.e.Status().State)

	// Right shape, but not a 32-byte key.
	h.send("@bob", strings.Repeat("z", 44))
	require.Eventually(t, func() bool {
		return h.chat.count("does not look like a Solana wallet address") == 2
	}, waitFor, tick)
	require.Equal(t, AwaitingClaim, h.e.Status().State)
	require.Empty(t, h.payer.paid())
}

func TestOnlyWinnerCanClaim(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.declareWinner(t)

	h.send("@alice", bobAddr)
	require.Never(t, func() bool { return len(h.payer.paid()) > 0 }, 100*time.Millisecond, tick)
	require.Equal(t, AwaitingClaim, h.e.Status().State)

	h.send("@bob", bobAddr)
	require.Eventually(t, func() bool { return len(h.payer.paid()) == 1 }, waitFor, tick)
	require.Equal(t, payCall{roundID: "round-1", to: bobAddr, amount: 100_000_000}, h.payer.paid()[0])
}

func TestPrizeCappedByLiveBalance(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	cfg := h.settings()
	cfg.FeeReserve = 5_000
	h.oracle.verdict = oracle.Verdict{Winner: "@bob"}
	h.startWith(t, cfg, h.deps())
	h.waitState(t, Countdown)
	h.sched.fire(t, h.t.Countdown)
	h.waitState(t, QuestionOpen)
	h.send("@bob", "Paris")
	require.Eventually(t, func() bool { return h.e.Status().Answers == 1 }, waitFor, tick)
	h.sched.fire(t, h.t.AnswerWindow)
	h.waitState(t, AwaitingClaim)

	// Fees drained the pot since the round opened.
	h.balances.set(80_000_000, nil)
	h.send("@bob", bobAddr)
	require.Eventually(t, func() bool { return len(h.payer.paid()) == 1 }, waitFor, tick)
	require.Equal(t, uint64(80_000_000-5_000), h.payer.paid()[0].amount)
}

func TestCapPrize(t *testing.T) {
	tests := []struct {
		prize, balance, reserve, want uint64
	}{
		{prize: 100, balance: 200, reserve: 10, want: 100},
		{prize: 100, balance: 105, reserve: 10, want: 95},
		{prize: 100, balance: 10, reserve: 10, want: 0},
		{prize: 100, balance: 0, reserve: 0, want: 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, capPrize(tt.prize, tt.balance, tt.reserve), "%+v", tt)
	}
}

func TestPayoutFailureReopensClaim(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.payer.results = []settlement.Result{
		{Signature: "pending-sig", Reason: settlement.ReasonConfirmationTimeout},
		{Confirmed: true, Signature: "pending-sig"},
	}
	h.declareWinner(t)

	h.send("@bob", bobAddr)
	h.waitSaid(t, "your payout is delayed")
	h.waitState(t, AwaitingClaim)
	require.Equal(t, "@bob", h.e.Status().Winner)

	// The first transfer may still land, so a new address is not honoured.
	h.send("@bob", altAddr)
	h.waitState(t, Idle)
	paid := h.payer.paid()
	require.Len(t, paid, 2)
	require.Equal(t, bobAddr, paid[0].to)
	require.Equal(t, bobAddr, paid[1].to)
	require.Equal(t, paid[0].roundID, paid[1].roundID)
}

func TestResumedPayoutReportsSentAmount(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.payer.results = []settlement.Result{
		{Signature: "sig-1", Amount: 100_000_000, Reason: settlement.ReasonConfirmationTimeout},
		{Confirmed: true, Signature: "sig-1", Amount: 100_000_000},
	}
	h.declareWinner(t)

	h.send("@bob", bobAddr)
	h.waitSaid(t, "your payout is delayed")
	h.waitState(t, AwaitingClaim)

	// The first transfer drained the pot; the resend must still reach the settler.
	h.balances.set(0, nil)
	h.send("@bob", bobAddr)
	h.waitSaid(t, "Sent 0.1 SOL to "+bobAddr)
	h.waitState(t, Idle)
	require.Equal(t, uint64(100_000_000), h.e.Status().Highest)
	require.Len(t, h.payer.paid(), 2)
	require.Zero(t, h.chat.count("did not claim"))
}

func TestPayoutFailureAfterDeadlineForfeits(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.t.ClaimWindow = time.Millisecond
	h.payer.results = []settlement.Result{{Reason: settlement.ReasonSubmitFailed}}
	h.declareWinner(t)

	time.Sleep(5 * time.Millisecond)
	h.send("@bob", bobAddr)
	h.waitSaid(t, "your payout is delayed")
	h.sched.fire(t, 0)
	h.waitSaid(t, "did not claim the prize in time")
}

func TestSkipRestartsDiscoveryAndCancelsRecheck(t *testing.T) {
	h := newHarness([]string{"alice"})
	h.start(t)
	h.waitSaid(t, "Waiting for players (1/2)")

	var stale *fakeTimer
	require.Eventually(t, func() bool {
		stale = h.sched.pending()
		return stale != nil && stale.d == h.t.RecheckDelay
	}, waitFor, tick)

	h.send("@admin", "/skip")
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool {
		tm := h.sched.pending()
		return tm != nil && tm != stale
	}, waitFor, tick)
	require.True(t, stale.isStopped())

	// A fire that raced the cancellation is ignored.
	stale.f()
	require.Never(t, func() bool { return h.scanner.count() > 2 }, 100*time.Millisecond, tick)
}

func TestSkipEvaluatesOpenQuestion(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.openQuestion(t)
	h.send("@alice", "Paris")
	require.Eventually(t, func() bool { return h.e.Status().Answers == 1 }, waitFor, tick)

	h.send("@admin", "/skip@trivia_bot")
	h.waitSaid(t, "No correct answers")
	_, judged := h.oracle.counts()
	require.Equal(t, 1, judged)
}

func TestSkipWithoutAnswersRestartsRound(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.openQuestion(t)

	h.send("@admin", "/skip")
	// The players keep their place and the round opens again.
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	h.waitState(t, Countdown)
	require.ElementsMatch(t, []string{"alice", "bob"}, h.e.Status().Participants)
	require.Eventually(t, func() bool { return h.chat.count("New round!") == 2 }, waitFor, tick)
}

func TestSkipRequiresAdmin(t *testing.T) {
	h := newHarness([]string{"alice"})
	h.start(t)
	h.waitSaid(t, "Waiting for players")

	h.send("@mallory", "/skip")
	h.waitSaid(t, "Only the admin can do that.")
	require.Equal(t, 1, h.scanner.count())
}

func TestSkipRefusedWhilePaying(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.payer.gate = make(chan struct{})
	h.declareWinner(t)

	h.send("@bob", bobAddr)
	h.waitState(t, Paying)
	h.send("@admin", "/skip")
	h.waitSaid(t, "being settled")
	require.Equal(t, Paying, h.e.Status().State)

	close(h.payer.gate)
	h.waitState(t, Idle)
	require.Len(t, h.payer.paid(), 1)
}

func TestStaleQuestionIsDropped(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	gate := make(chan struct{})
	h.oracle.gate = gate
	h.start(t)
	h.waitState(t, Countdown)
	h.sched.fire(t, h.t.Countdown)
	require.Eventually(t, func() bool { asked, _ := h.oracle.counts(); return asked == 1 }, waitFor, tick)

	h.send("@admin", "/skip")
	require.Eventually(t, func() bool { return h.scanner.count() == 2 }, waitFor, tick)
	h.waitState(t, Countdown)

	close(gate)
	require.Never(t, func() bool { return h.e.Status().State == QuestionOpen }, 100*time.Millisecond, tick)
}

func TestErrorRollsBackToAwaitingPlayers(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.balances.set(0, errors.New("rpc unavailable"))
	h.start(t)

	h.waitSaid(t, "Something went wrong")
	h.waitState(t, AwaitingPlayers)
	require.Equal(t, 2, h.e.Status().Lobby)

	h.balances.set(200_000_000, nil)
	h.sched.fire(t, h.t.ErrorBackoff)
	h.waitState(t, Countdown)
	require.ElementsMatch(t, []string{"alice", "bob"}, h.e.Status().Participants)
}

func TestOracleFailureRollsBack(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.oracle.arbErr = errors.New("quota exceeded")
	h.openQuestion(t)
	h.send("@alice", "Paris")
	require.Eventually(t, func() bool { return h.e.Status().Answers == 1 }, waitFor, tick)

	h.sched.fire(t, h.t.AnswerWindow)
	h.waitSaid(t, "Something went wrong")
	h.waitState(t, AwaitingPlayers)
	require.Equal(t, 0, h.chat.count("quota"))
}

func TestStaleAnswersEvicted(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.t.EvictEvery = 10 * time.Millisecond
	h.openQuestion(t)

	h.chat.in <- chat.Message{ChatID: testChatID, Sender: "@alice", Text: "Paris", At: time.Now().Add(-20 * time.Minute)}
	h.send("@bob", "Paris")
	time.Sleep(50 * time.Millisecond)
	require.Eventually(t, func() bool { return h.e.Status().Answers == 1 }, waitFor, tick)

	h.sched.fire(t, h.t.AnswerWindow)
	require.Eventually(t, func() bool { _, judged := h.oracle.counts(); return judged == 1 }, waitFor, tick)
	h.oracle.mu.Lock()
	defer h.oracle.mu.Unlock()
	require.Len(t, h.oracle.submitted, 1)
	require.Equal(t, "@bob", h.oracle.submitted[0].Identity)
}

func TestStatusCommand(t *testing.T) {
	h := newHarness([]string{"alice"})
	h.start(t)
	h.waitSaid(t, "Waiting for players")

	h.send("@carol", "/status")
	h.waitSaid(t, "State: AWAITING_PLAYERS")
	h.waitSaid(t, "Players waiting: 1/2")
}

func TestOtherChatsIgnored(t *testing.T) {
	h := newHarness([]string{"alice", "bob"})
	h.openQuestion(t)

	h.chat.in <- chat.Message{ChatID: 42, Sender: "@alice", Text: "Paris", At: time.Now()}
	h.chat.in <- chat.Message{ChatID: 42, Sender: "@admin", Text: "/skip", At: time.Now()}
	require.Never(t, func() bool { return h.e.Status().Answers > 0 }, 100*time.Millisecond, tick)
	require.Equal(t, QuestionOpen, h.e.Status().State)
}
