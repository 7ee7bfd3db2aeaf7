package round

import (
	"fmt"
	"strings"
	"time"

	"trivia-pot/internal/config"
)

// Everything users ever read comes from here; error details never do.

func msgWaiting(have int, minEntry uint64, pot string) string {
	return fmt.Sprintf("⏳ Waiting for players (%d/%d). Send at least %s SOL to %s to join the next round.",
		have, MinPlayers, config.FormatSOL(minEntry), pot)
}

func msgRoundOpen(players int, pool, prize uint64, countdown time.Duration) string {
	return fmt.Sprintf("🎉 New round! %d players are in.\nPrize pool: %s SOL. The winner takes %s SOL.\nThe question drops in %s.",
		players, config.FormatSOL(pool), config.FormatSOL(prize), humanDuration(countdown))
}

func msgQuestion(q string, window time.Duration) string {
	return fmt.Sprintf("❓ %s\n\nReply in this chat. One answer per person, your first answer counts. You have %s.",
		q, humanDuration(window))
}

func msgQuestionStillOpen(q string) string {
	return fmt.Sprintf("⏰ No answers yet, the question is still open:\n%s", q)
}

func msgNoWinner(next time.Duration) string {
	return fmt.Sprintf("😔 No correct answers this round. The next round starts in %s.", humanDuration(next))
}

func msgWinner(winner string, prize uint64, explanation string, window time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 %s wins %s SOL!\n", winner, config.FormatSOL(prize))
	if explanation != "" {
		b.WriteString(explanation)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%s, reply with your Solana wallet address within %s to claim the prize.", winner, humanDuration(window))
	return b.String()
}

func msgInvalidAddress(winner string) string {
	return fmt.Sprintf("%s, that does not look like a Solana wallet address. Please send a valid address.", winner)
}

func msgPaid(amount uint64, to, sig string, next time.Duration) string {
	return fmt.Sprintf("💸 Sent %s SOL to %s.\nTransaction: https://solscan.io/tx/%s\nNext round in %s.",
		config.FormatSOL(amount), to, sig, humanDuration(next))
}

func msgPayoutDelayed(winner string) string {
	return fmt.Sprintf("⚠️ %s, your payout is delayed. Please keep an eye on your wallet; you can resend your address while the claim window is open.", winner)
}

func msgForfeit(winner string) string {
	return fmt.Sprintf("⌛ %s did not claim the prize in time. It stays in the pot. Starting a new round.", winner)
}

const (
	msgTrouble    = "⚠️ Something went wrong. The game will restart shortly."
	msgBusy       = "The round is being settled, try again in a moment."
	msgNotAllowed = "Only the admin can do that."
)

func msgStatus(s Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", s.State)
	switch s.State {
	case AwaitingPlayers, Idle:
		fmt.Fprintf(&b, "Players waiting: %d/%d\n", s.Lobby, MinPlayers)
	default:
		fmt.Fprintf(&b, "Players: %d\nPrize: %s SOL\n", len(s.Participants), config.FormatSOL(s.Prize))
	}
	if s.State == QuestionOpen {
		fmt.Fprintf(&b, "Answers so far: %d\n", s.Answers)
	}
	fmt.Fprintf(&b, "Biggest payout so far: %s SOL", config.FormatSOL(s.Highest))
	return b.String()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	case d >= time.Second:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	default:
		return d.String()
	}
}
