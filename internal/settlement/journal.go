package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Outcome is what we know about a submitted payout.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
)

// Record is the durable trace of one payout for a round/destination pair. It is
// written as soon as a transfer has a signature, before its fate is known.
type Record struct {
	RoundID     string    `json:"round_id"`
	Destination string    `json:"destination"`
	Amount      uint64    `json:"amount"`
	Signature   string    `json:"signature,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Submissions int       `json:"submissions"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Journal persists payout records.
type Journal interface {
	// Lookup returns (nil, nil) when nothing was recorded for the pair.
	Lookup(ctx context.Context, roundID, destination string) (*Record, error)
	Save(ctx context.Context, rec Record) error
	// Unresolved lists pending records that carry a signature.
	Unresolved(ctx context.Context) ([]Record, error)
}

func journalKey(roundID, destination string) string {
	return roundID + "|" + destination
}

// FileJournal keeps records in a JSON document rewritten on every Save.
type FileJournal struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

func OpenFileJournal(path string) (*FileJournal, error) {
	j := &FileJournal{path: path, records: make(map[string]Record)}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read payout journal: %w", err)
	}
	if len(raw) == 0 {
		return j, nil
	}
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decode payout journal: %w", err)
	}
	for _, r := range recs {
		j.records[journalKey(r.RoundID, r.Destination)] = r
	}
	return j, nil
}

func (j *FileJournal) Lookup(_ context.Context, roundID, destination string) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.records[journalKey(roundID, destination)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (j *FileJournal) Save(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	key := journalKey(rec.RoundID, rec.Destination)
	prev, had := j.records[key]
	j.records[key] = rec
	if err := j.persist(); err != nil {
		if had {
			j.records[key] = prev
		} else {
			delete(j.records, key)
		}
		return err
	}
	return nil
}

func (j *FileJournal) Unresolved(_ context.Context) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Record
	for _, r := range j.records {
		if r.Outcome == OutcomePending && r.Signature != "" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

func (j *FileJournal) persist() error {
	recs := make([]Record, 0, len(j.records))
	for _, r := range j.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(a, b int) bool {
		return journalKey(recs[a].RoundID, recs[a].Destination) < journalKey(recs[b].RoundID, recs[b].Destination)
	})
	raw, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payout journal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp payout journal: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write payout journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync payout journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close payout journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace payout journal: %w", err)
	}
	return nil
}
