package round

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trivia-pot/internal/answers"
	"trivia-pot/internal/chat"
	"trivia-pot/internal/logger"
	"trivia-pot/internal/oracle"
	"trivia-pot/internal/settlement"

	"github.com/cometbft/cometbft/libs/service"
)

const (
	eventsBufferSize = 256
	outboxBufferSize = 64
)

// Scanner finds participants who paid since the last scan.
type Scanner interface {
	Scan(ctx context.Context) ([]string, error)
}

// BalanceReader reads the pot balance.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (uint64, error)
}

// Payer settles a prize transfer.
type Payer interface {
	Pay(ctx context.Context, roundID, to string, amount uint64) settlement.Result
}

// Settings are the static parameters of the contest.
type Settings struct {
	ChatID     int64
	AdminID    string // identity allowed to /skip, with or without the leading @
	PotAddress string
	MinEntry   uint64
	// FeeReserve is kept back from the live balance when capping a payout.
	FeeReserve uint64
	Timings    Timings
}

// Deps are the collaborators of the engine.
type Deps struct {
	Chat      chat.Transport
	Oracle    oracle.Oracle
	Discovery Scanner
	Balances  BalanceReader
	Settler   Payer
	Scheduler Scheduler        // wall clock when nil
	Now       func() time.Time // time.Now when nil
	Log       logger.Logger
	Updates   chan<- Status // optional status feed, never blocks the engine
	NewID     func() string
}

type timerEvent struct {
	seq uint64
	fn  func()
}

type jobEvent struct {
	name  string
	gen   uint64
	gated bool
	apply func()
	err   error
}

type evictEvent struct{}

type outgoing struct {
	text   string
	format chat.Format
}

// Engine is the round state machine. All state is owned by the goroutine
// started in OnStart; everything else talks to it through events.
type Engine struct {
	*service.BaseService

	cfg  Settings
	t    Timings
	deps Deps
	log  logger.Logger
	now  func() time.Time

	events chan any
	outbox chan outgoing

	// owned by the loop goroutine
	round          Round
	lobby          map[string]struct{}
	buf            *answers.Buffer
	highest        uint64
	gen            uint64 // bumped on every transition; gated job results from older generations are dropped
	timer          Timer
	timerSeq       uint64
	scanning       bool
	lastWaitNotice time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

func NewEngine(cfg Settings, deps Deps) *Engine {
	if deps.Scheduler == nil {
		deps.Scheduler = wallClock{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.NewID == nil {
		deps.NewID = newRoundID
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	e := &Engine{
		cfg:    cfg,
		t:      cfg.Timings,
		deps:   deps,
		log:    deps.Log,
		now:    deps.Now,
		events: make(chan any, eventsBufferSize),
		outbox: make(chan outgoing, outboxBufferSize),
		lobby:  make(map[string]struct{}),
		buf:    answers.NewBuffer(),
	}
	e.round = Round{State: Idle, Participants: map[string]struct{}{}}
	e.BaseService = service.NewBaseService(deps.Log, "RoundEngine", e)
	return e
}

// OnStart implements service.Service.
func (e *Engine) OnStart() error {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.publish()
	e.wg.Add(2)
	go e.loop()
	go e.sendLoop()
	e.post(startEvent{})
	return nil
}

// OnStop implements service.Service.
func (e *Engine) OnStop() {
	e.cancel()
	e.wg.Wait()
}

// Status returns the latest snapshot. Safe for any goroutine.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

type startEvent struct{}

func (e *Engine) loop() {
	defer e.wg.Done()
	evict := time.NewTicker(e.t.EvictEvery)
	defer evict.Stop()

	var inbound <-chan chat.Message
	if e.deps.Chat != nil {
		inbound = e.deps.Chat.Messages()
	}
	for {
		select {
		case <-e.ctx.Done():
			e.stopTimer()
			return
		case ev := <-e.events:
			e.dispatch(ev)
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			e.dispatch(msg)
		case <-evict.C:
			e.dispatch(evictEvent{})
		}
	}
}

func (e *Engine) dispatch(ev any) {
	defer e.publish()
	defer func() {
		if r := recover(); r != nil {
			e.fail("handler", fmt.Errorf("panic: %v", r))
		}
	}()

	switch ev := ev.(type) {
	case startEvent:
		e.discover()
	case chat.Message:
		e.onMessage(ev)
	case timerEvent:
		if ev.seq != e.timerSeq {
			return
		}
		e.timer = nil
		ev.fn()
	case jobEvent:
		if ev.name == jobDiscover {
			e.scanning = false
		}
		if ev.gated && ev.gen != e.gen {
			e.log.Debug("dropping stale job result", "job", ev.name)
			return
		}
		if ev.err != nil {
			// A failed job may still hand back what it completed.
			if ev.apply != nil {
				ev.apply()
			}
			e.fail(ev.name, ev.err)
			return
		}
		if ev.apply != nil {
			ev.apply()
		}
	case evictEvent:
		if n := e.buf.Evict(e.now().Add(-e.t.AnswerMaxAge)); n > 0 {
			e.log.Debug("evicted stale answers", "count", n)
		}
	}
}

func (e *Engine) post(ev any) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// enter moves to s and cancels whatever was scheduled for the previous state.
func (e *Engine) enter(s State) {
	e.gen++
	e.stopTimer()
	if e.round.State != s {
		e.log.Debug("state change", "from", e.round.State, "to", s, "round", e.round.ID)
	}
	e.round.State = s
}

// schedule arms the single state timer, replacing any previous one.
func (e *Engine) schedule(d time.Duration, fn func()) {
	e.stopTimer()
	seq := e.timerSeq
	e.timer = e.deps.Scheduler.AfterFunc(d, func() {
		e.post(timerEvent{seq: seq, fn: fn})
	})
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// Invalidates a fire that is already queued.
	e.timerSeq++
}

// spawn runs fn off the loop and applies its result on the loop. Gated jobs
// are discarded if the engine changed state meanwhile.
func (e *Engine) spawn(name string, gated bool, timeout time.Duration, fn func(ctx context.Context) (func(), error)) {
	gen := e.gen
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ev := jobEvent{name: name, gen: gen, gated: gated}
		func() {
			defer func() {
				if r := recover(); r != nil {
					ev.err = fmt.Errorf("panic: %v", r)
				}
			}()
			ctx := e.ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(e.ctx, timeout)
				defer cancel()
			}
			ev.apply, ev.err = fn(ctx)
		}()
		e.post(ev)
	}()
}

// say queues an announcement for the game chat.
func (e *Engine) say(text string) {
	select {
	case e.outbox <- outgoing{text: text, format: chat.Plain}:
	default:
		e.log.Error("outbox full, dropping announcement")
	}
}

func (e *Engine) sendLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case m := <-e.outbox:
			if e.deps.Chat == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(e.ctx, e.t.SendTimeout)
			err := e.deps.Chat.Send(ctx, e.cfg.ChatID, m.text, m.format)
			cancel()
			if err != nil {
				e.log.Error("failed to send announcement", "err", err)
			}
		}
	}
}

func (e *Engine) snapshot() Status {
	return Status{
		State:         e.round.State,
		RoundID:       e.round.ID,
		Question:      e.round.Question,
		Pool:          e.round.Pool,
		Prize:         e.round.Prize,
		Participants:  e.round.participantList(),
		Lobby:         len(e.lobby),
		Answers:       e.buf.Len(),
		Winner:        e.round.Winner,
		ClaimDeadline: e.round.ClaimDeadline,
		Highest:       e.highest,
		UpdatedAt:     e.now(),
	}
}

func (e *Engine) publish() {
	st := e.snapshot()
	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()

	if e.deps.Updates != nil {
		select {
		case e.deps.Updates <- st:
		default:
		}
	}
}
