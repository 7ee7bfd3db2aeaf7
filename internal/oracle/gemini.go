package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trivia-pot/internal/answers"
	"trivia-pot/internal/logger"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultAttempts = 3
	defaultPause    = 2 * time.Second
	callTimeout     = 45 * time.Second
)

var errEmptyResponse = errors.New("oracle: empty response")

// generateFunc sends one prompt and returns the text of the reply.
type generateFunc func(ctx context.Context, prompt string, jsonReply bool) (string, error)

// Gemini implements Oracle on top of the Gemini API.
type Gemini struct {
	client   *genai.Client
	generate generateFunc
	log      logger.Logger
	attempts int
	pause    time.Duration
}

func NewGemini(ctx context.Context, apiKey, model string, log logger.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g := &Gemini{client: client, log: log, attempts: defaultAttempts, pause: defaultPause}
	g.generate = func(ctx context.Context, prompt string, jsonReply bool) (string, error) {
		m := client.GenerativeModel(model)
		if jsonReply {
			m.ResponseMIMEType = "application/json"
			m.SetTemperature(0)
		} else {
			m.SetTemperature(1)
		}
		resp, err := m.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return getText(resp), nil
	}
	return g, nil
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Question(ctx context.Context) (string, error) {
	q, err := g.ask(ctx, questionPrompt, false)
	if err != nil {
		return "", fmt.Errorf("generate question: %w", err)
	}
	return q, nil
}

type submission struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

type verdictReply struct {
	Winner *string `json:"winner"`
}

func (g *Gemini) Arbitrate(ctx context.Context, question string, submitted []answers.Answer) (Verdict, error) {
	if len(submitted) == 0 {
		return Verdict{}, nil
	}
	subs := make([]submission, 0, len(submitted))
	known := make(map[string]struct{}, len(submitted))
	for _, a := range submitted {
		subs = append(subs, submission{Identity: a.Identity, Text: a.Text})
		known[a.Identity] = struct{}{}
	}
	payload, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return Verdict{}, fmt.Errorf("encode answers: %w", err)
	}

	raw, err := g.ask(ctx, fmt.Sprintf(arbitratePrompt, question, payload), true)
	if err != nil {
		return Verdict{}, fmt.Errorf("arbitrate: %w", err)
	}
	v, err := parseVerdict(raw)
	if err != nil {
		return Verdict{}, err
	}
	if _, ok := known[v.Winner]; !v.NoWinner() && !ok {
		g.log.Info("oracle named a winner who did not answer", "winner", v.Winner)
		return Verdict{}, nil
	}
	return v, nil
}

func (g *Gemini) Explain(ctx context.Context, question, answer string) (string, error) {
	text, err := g.ask(ctx, fmt.Sprintf(explainPrompt, question, answer), false)
	if err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}
	return text, nil
}

// ask calls the model with a bounded number of attempts.
func (g *Gemini) ask(ctx context.Context, prompt string, jsonReply bool) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		text, err := g.generate(callCtx, prompt, jsonReply)
		cancel()
		text = strings.TrimSpace(text)
		if err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = errEmptyResponse
		}
		lastErr = err
		g.log.Info("oracle call failed", "attempt", attempt, "err", err)
		if attempt == g.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.pause):
		}
	}
	return "", lastErr
}

func parseVerdict(raw string) (Verdict, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "NO_WINNER") {
		return Verdict{}, nil
	}
	var reply verdictReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict %q: %w", raw, err)
	}
	if reply.Winner == nil || strings.EqualFold(*reply.Winner, "NO_WINNER") {
		return Verdict{}, nil
	}
	return Verdict{Winner: strings.TrimSpace(*reply.Winner)}, nil
}

func getText(resp *genai.GenerateContentResponse) string {
	var text string
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text += string(txt)
			}
		}
	}
	return text
}
