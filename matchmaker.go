package main

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// Matchmaker is the single ranked-queue actor of §4.3: a FIFO queue of
// QueueEntry plus a side table of PendingMatch results awaiting
// delivery. Structured after the teacher's single-goroutine Hub, but
// with one global inbox instead of a per-game one, since there is
// exactly one Matchmaker for the whole process, serving every mode.
type Matchmaker struct {
	cfg       *Config
	snapshots *snapshotStore
	games     *GameManager

	inbox chan func()
	done  chan struct{}

	queue    map[string]*QueueEntry // by playerId
	pending  map[string]*PendingMatch
	nextGame int
}

func newMatchmaker(cfg *Config, snapshots *snapshotStore, games *GameManager) *Matchmaker {
	mm := &Matchmaker{
		cfg:       cfg,
		snapshots: snapshots,
		games:     games,
		inbox:     make(chan func(), 64),
		done:      make(chan struct{}),
		queue:     make(map[string]*QueueEntry),
		pending:   make(map[string]*PendingMatch),
	}
	mm.rehydrate()
	return mm
}

func (mm *Matchmaker) run() {
	ticker := time.NewTicker(mm.cfg.matchmakerTick)
	defer ticker.Stop()
	for {
		select {
		case fn := <-mm.inbox:
			fn()
		case <-ticker.C:
			mm.tickLocked()
		case <-mm.done:
			return
		}
	}
}

func (mm *Matchmaker) submit(fn func()) bool {
	select {
	case mm.inbox <- fn:
		return true
	case <-mm.done:
		return false
	}
}

func matchmakerRequest[T any](mm *Matchmaker, fn func() T) (T, bool) {
	result := make(chan T, 1)
	if !mm.submit(func() { result <- fn() }) {
		var zero T
		return zero, false
	}
	select {
	case v := <-result:
		return v, true
	case <-mm.done:
		var zero T
		return zero, false
	}
}

// ratingWindow is the piecewise-linear widening schedule of §4.3.1,
// capped at 600 Elo in either direction.
func ratingWindow(waitSeconds float64) int {
	var window float64
	switch {
	case waitSeconds < 10:
		window = 150
	case waitSeconds < 20:
		window = 150 + 10*(waitSeconds-10)
	case waitSeconds < 25:
		window = 250 + 30*(waitSeconds-20)
	default:
		window = 400 + 40*(waitSeconds-25)
	}
	if window > 600 {
		window = 600
	}
	return int(window)
}

// JoinQueueRequest is the "join" RPC input (§4.3 "Join").
type JoinQueueRequest struct {
	Player PlayerDescriptor `json:"player"`
	Mode   GameMode         `json:"gameMode"`
}

type JoinQueueResult struct {
	Status        string        `json:"status"` // "queued" | "matched"
	Position      int           `json:"position,omitempty"`
	EstimatedWait int64         `json:"estimatedWaitMs,omitempty"`
	Matched       *PendingMatch `json:"matched,omitempty"`
}

func (mm *Matchmaker) Join(req JoinQueueRequest) JoinQueueResult {
	result, ok := matchmakerRequest(mm, func() JoinQueueResult { return mm.joinLocked(req) })
	if !ok {
		return JoinQueueResult{Status: "queued"}
	}
	return result
}

func (mm *Matchmaker) joinLocked(req JoinQueueRequest) JoinQueueResult {
	if match, ok := mm.pending[req.Player.PlayerID]; ok {
		delete(mm.pending, req.Player.PlayerID)
		mm.persistLocked()
		return JoinQueueResult{Status: "matched", Matched: match}
	}

	now := time.Now()
	mm.queue[req.Player.PlayerID] = &QueueEntry{
		PlayerID: req.Player.PlayerID, DisplayName: req.Player.DisplayName,
		Rating: req.Player.Rating, Provisional: req.Player.Provisional,
		Mode: req.Mode, JoinedAt: now, ExpiresAt: now.Add(mm.cfg.queueTTL),
	}
	mm.tryPairLocked()
	mm.persistLocked()

	if match, ok := mm.pending[req.Player.PlayerID]; ok {
		delete(mm.pending, req.Player.PlayerID)
		mm.persistLocked()
		return JoinQueueResult{Status: "matched", Matched: match}
	}

	position := 0
	for _, e := range mm.queue {
		if e.Mode == req.Mode && !e.JoinedAt.After(now) {
			position++
		}
	}
	return JoinQueueResult{
		Status:        "queued",
		Position:      position,
		EstimatedWait: estimatedWaitMs(req.Mode, position),
	}
}

// estimatedWaitMs is a coarse heuristic: each position in the same
// mode's queue, the caller's own included, adds one widening step
// (§4.3.1's ~10s cadence) to the estimate.
func estimatedWaitMs(mode GameMode, position int) int64 {
	return int64(position) * 10_000
}

// StatusResult answers the "status" RPC (§4.3 "Status"): queue
// membership, position, wait time, current rating window, and
// remaining TTL. Does not mutate.
type StatusResult struct {
	InQueue      bool          `json:"inQueue"`
	Position     int           `json:"position,omitempty"`
	WaitedMs     int64         `json:"waitedMs,omitempty"`
	Window       int           `json:"ratingWindow,omitempty"`
	TTLRemainMs  int64         `json:"ttlRemainingMs,omitempty"`
	Matched      *PendingMatch `json:"matched,omitempty"`
}

func (mm *Matchmaker) Status(playerID string) StatusResult {
	result, _ := matchmakerRequest(mm, func() StatusResult {
		if match, ok := mm.pending[playerID]; ok {
			return StatusResult{Matched: match}
		}
		entry, ok := mm.queue[playerID]
		if !ok {
			return StatusResult{InQueue: false}
		}
		now := time.Now()
		waited := now.Sub(entry.JoinedAt)
		position := 1
		for _, other := range mm.queue {
			if other.Mode == entry.Mode && other.JoinedAt.Before(entry.JoinedAt) {
				position++
			}
		}
		return StatusResult{
			InQueue:     true,
			Position:    position,
			WaitedMs:    waited.Milliseconds(),
			Window:      ratingWindow(waited.Seconds()),
			TTLRemainMs: entry.ExpiresAt.Sub(now).Milliseconds(),
		}
	})
	return result
}

// Leave withdraws a player from the queue (§4.3 "Leave").
func (mm *Matchmaker) Leave(playerID string) {
	mm.submit(func() {
		delete(mm.queue, playerID)
		mm.persistLocked()
	})
}

// InfoResult is the aggregate view for GET /queue/info, grounded in
// the administrative system-status views other matchmaker designs in
// the pack expose.
type InfoResult struct {
	QueueDepth     map[GameMode]int `json:"queueDepth"`
	AvgWaitMs      map[GameMode]int64 `json:"avgWaitMs"`
	PendingCount   int              `json:"pendingCount"`
}

func (mm *Matchmaker) Info() InfoResult {
	result, _ := matchmakerRequest(mm, func() InfoResult {
		now := time.Now()
		depth := map[GameMode]int{}
		waitTotal := map[GameMode]int64{}
		for _, e := range mm.queue {
			depth[e.Mode]++
			waitTotal[e.Mode] += now.Sub(e.JoinedAt).Milliseconds()
		}
		avg := map[GameMode]int64{}
		for mode, count := range depth {
			avg[mode] = waitTotal[mode] / int64(count)
		}
		return InfoResult{QueueDepth: depth, AvgWaitMs: avg, PendingCount: len(mm.pending)}
	})
	return result
}

// tickLocked prunes expired queue/pending entries and re-attempts
// pairing, run once per matchmakerTick (§4.3 "Periodic pruning").
func (mm *Matchmaker) tickLocked() {
	now := time.Now()
	for id, e := range mm.queue {
		if now.After(e.ExpiresAt) {
			delete(mm.queue, id)
		}
	}
	for id, p := range mm.pending {
		if now.After(p.ExpiresAt) {
			delete(mm.pending, id)
		}
	}
	mm.tryPairLocked()
	mm.persistLocked()
}

// tryPairLocked scans the queue for any mutually-acceptable pair
// (§4.3.1): each side's rating must fall inside the other's current
// window, widened by how long each has waited.
func (mm *Matchmaker) tryPairLocked() {
	now := time.Now()
	for {
		a, b := mm.findPairLocked(now)
		if a == nil {
			return
		}
		mm.pairLocked(a, b)
	}
}

func (mm *Matchmaker) findPairLocked(now time.Time) (*QueueEntry, *QueueEntry) {
	var candidates []*QueueEntry
	for _, e := range mm.queue {
		candidates = append(candidates, e)
	}
	// Map iteration order is randomized per-run; §4.3.1 requires the
	// first mutually-accepting pair in queue (FIFO) order, so the scan
	// below must walk a deterministically ordered slice.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
		}
		return candidates[i].PlayerID < candidates[j].PlayerID
	})
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if a.Mode != b.Mode {
				continue
			}
			windowA := ratingWindow(now.Sub(a.JoinedAt).Seconds())
			windowB := ratingWindow(now.Sub(b.JoinedAt).Seconds())
			diff := a.Rating - b.Rating
			if diff < 0 {
				diff = -diff
			}
			if diff <= windowA && diff <= windowB {
				return a, b
			}
		}
	}
	return nil, nil
}

func (mm *Matchmaker) pairLocked(a, b *QueueEntry) {
	delete(mm.queue, a.PlayerID)
	delete(mm.queue, b.PlayerID)

	mm.nextGame++
	gameID := fmt.Sprintf("ranked-%d-%d", time.Now().UnixNano(), mm.nextGame)

	// Colors are assigned 50/50 at random (§4.3 "Join").
	aColor, bColor := ColorWhite, ColorBlack
	if rand.Intn(2) == 0 {
		aColor, bColor = ColorBlack, ColorWhite
	}

	room := mm.games.GetOrCreate(gameID)
	room.Init(InitRequest{
		Mode:      a.Mode,
		IsUnrated: false,
		White:     descriptorForQueueEntry(a, b, aColor, ColorWhite),
		Black:     descriptorForQueueEntry(a, b, aColor, ColorBlack),
	})

	connectionURL := fmt.Sprintf("%s/ws?gameId=%s", mm.cfg.prefix, gameID)
	expires := time.Now().Add(mm.cfg.pendingMatchTTL)

	mm.pending[a.PlayerID] = &PendingMatch{
		PlayerID: a.PlayerID, GameRoomID: gameID, Color: aColor, ConnectionURL: connectionURL,
		OpponentID: b.PlayerID, Opponent: queueEntryDescriptor(b), Mode: a.Mode, ExpiresAt: expires,
	}
	mm.pending[b.PlayerID] = &PendingMatch{
		PlayerID: b.PlayerID, GameRoomID: gameID, Color: bColor, ConnectionURL: connectionURL,
		OpponentID: a.PlayerID, Opponent: queueEntryDescriptor(a), Mode: a.Mode, ExpiresAt: expires,
	}
}

func descriptorForQueueEntry(a, b *QueueEntry, aColor, wantColor PlayerColor) *PlayerDescriptor {
	if aColor == wantColor {
		return queueEntryDescriptorPtr(a)
	}
	return queueEntryDescriptorPtr(b)
}

func queueEntryDescriptor(e *QueueEntry) PlayerDescriptor {
	return PlayerDescriptor{PlayerID: e.PlayerID, DisplayName: e.DisplayName, Rating: e.Rating, Provisional: e.Provisional}
}

func queueEntryDescriptorPtr(e *QueueEntry) *PlayerDescriptor {
	d := queueEntryDescriptor(e)
	return &d
}

// matchmakerSnapshot is the durable record of the queue/pending tables
// (§5 "Durability": "Matchmaker persists the queue and pending-match
// map after every mutation").
type matchmakerSnapshot struct {
	Queue   map[string]*QueueEntry   `json:"queue"`
	Pending map[string]*PendingMatch `json:"pending"`
}

func (mm *Matchmaker) persistLocked() {
	if err := mm.snapshots.Save("matchmaker", "global", matchmakerSnapshot{Queue: mm.queue, Pending: mm.pending}); err != nil {
		logFault("matchmaker: snapshot save failed: %v", err)
	}
}

// rehydrate restores the queue and pending-match tables from the last
// snapshot, called once at construction so a process restart does not
// lose in-flight matchmaking state (§4.3, §5 "Durability").
func (mm *Matchmaker) rehydrate() {
	var snap matchmakerSnapshot
	ok, err := mm.snapshots.Load("matchmaker", "global", &snap)
	if err != nil {
		logFault("matchmaker: snapshot load failed: %v", err)
		return
	}
	if !ok {
		return
	}
	if snap.Queue != nil {
		mm.queue = snap.Queue
	}
	if snap.Pending != nil {
		mm.pending = snap.Pending
	}
}
