// Package occupancy holds the in-memory occupancy state machine. State
// is rebuilt from detections after a restart and is never persisted.
package occupancy

import (
	"sort"
	"sync"
	"time"

	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/timeutil"
)

// DefaultOccupancyMinutes is how long a vehicle must be continuously
// detected before the spot is reported occupied.
const DefaultOccupancyMinutes = 5

// View is one camera's rectangle for a spot.
type View struct {
	CameraID string
	Rect     geometry.Rect
}

// TrackedSpot is a spot as the engine sees it. Views holds the primary
// view first, then any alternate views.
type TrackedSpot struct {
	ID      string
	SpaceID string
	Label   string
	Type    string
	Number  int
	Views   []View
}

// CameraSample is one camera's contribution to a detection cycle.
// Detections must already be confidence and exclusion filtered.
type CameraSample struct {
	Detections []detect.Detection
	Alive      bool
}

// State is the externally visible occupancy of one spot. Sequence is a
// transient per-space number assigned while the spot is occupied; it is
// 0 for free spots and is reassigned from the lowest free number, so it
// carries no meaning across sessions.
type State struct {
	SpotID     string     `json:"spot_id"`
	SpaceID    string     `json:"space_id"`
	Label      string     `json:"label"`
	Number     int        `json:"spot_number"`
	Occupied   bool       `json:"occupied"`
	Sequence   int        `json:"sequence,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Transition bool       `json:"-"`
}

// SpaceStats aggregates a space. Total = Occupied + Free always holds.
type SpaceStats struct {
	SpaceID  string `json:"space_id"`
	Total    int    `json:"total"`
	Occupied int    `json:"occupied"`
	Free     int    `json:"free"`
}

type spotRecord struct {
	spot     TrackedSpot
	occupied bool
	sequence int
	// enterAt is set when presence starts on a free spot; the spot flips
	// once presence has held for the entry debounce.
	enterAt *time.Time
	// exitAt mirrors enterAt for absence on an occupied spot.
	exitAt *time.Time
	since  *time.Time
}

// spaceShard groups one space's records under its own mutex, so an
// override in one space never waits on a cycle working another space.
type spaceShard struct {
	mu      sync.Mutex
	records map[string]*spotRecord
	pool    *sequencePool
}

// Engine evaluates detection cycles against the marked spots. The
// registry lock guards membership (which spot lives in which space);
// state mutation locks only the affected space's shard.
type Engine struct {
	clock timeutil.Clock
	bus   *events.Bus

	mu            sync.RWMutex
	shards        map[string]*spaceShard
	spaceOf       map[string]string
	entryDebounce time.Duration
	exitDebounce  time.Duration
}

// NewEngine creates an engine with the default 5 minute entry debounce
// and no exit debounce.
func NewEngine(clock timeutil.Clock, bus *events.Bus) *Engine {
	return &Engine{
		clock:         clock,
		bus:           bus,
		shards:        make(map[string]*spaceShard),
		spaceOf:       make(map[string]string),
		entryDebounce: DefaultOccupancyMinutes * time.Minute,
	}
}

// SetDebounce adjusts both debounce windows. Takes effect from the next
// cycle; running timers keep their start points.
func (e *Engine) SetDebounce(entry, exit time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entryDebounce = entry
	e.exitDebounce = exit
}

// SetSpots replaces the tracked spot set. State for surviving spot IDs
// is kept; removed spots release their sequence numbers. Record state
// is only read or written under the owning shard's mutex, because an
// in-flight ProcessCycle that snapshotted the shards before this call
// still mutates the shared records.
func (e *Engine) SetSpots(spots []TrackedSpot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nextSpaceOf := make(map[string]string, len(spots))
	bySpace := make(map[string][]TrackedSpot)
	for _, s := range spots {
		bySpace[s.SpaceID] = append(bySpace[s.SpaceID], s)
		nextSpaceOf[s.ID] = s.SpaceID
	}

	spaceIDs := make(map[string]bool, len(e.shards)+len(bySpace))
	for spaceID := range e.shards {
		spaceIDs[spaceID] = true
	}
	for spaceID := range bySpace {
		spaceIDs[spaceID] = true
	}
	for spaceID := range spaceIDs {
		shard := e.shardFor(spaceID)
		shard.mu.Lock()
		recs := make(map[string]*spotRecord, len(bySpace[spaceID]))
		for _, s := range bySpace[spaceID] {
			if old, ok := shard.records[s.ID]; ok {
				old.spot = s
				recs[s.ID] = old
				continue
			}
			recs[s.ID] = &spotRecord{spot: s}
		}
		// Sequence numbers held by spots no longer in this space go back
		// to its pool.
		for id, rec := range shard.records {
			if _, kept := recs[id]; kept {
				continue
			}
			if rec.sequence != 0 {
				shard.pool.release(rec.sequence)
			}
		}
		shard.records = recs
		shard.mu.Unlock()
	}
	e.spaceOf = nextSpaceOf
}

// shardFor returns the shard for spaceID, creating it if needed. Caller
// holds the registry lock.
func (e *Engine) shardFor(spaceID string) *spaceShard {
	shard, ok := e.shards[spaceID]
	if !ok {
		shard = &spaceShard{
			records: make(map[string]*spotRecord),
			pool:    newSequencePool(),
		}
		e.shards[spaceID] = shard
	}
	return shard
}

// ProcessCycle evaluates one detection cycle, one space at a time. A
// spot with no alive view keeps its previous state and loses any running
// debounce; a dead camera must not look like a departure.
func (e *Engine) ProcessCycle(samples map[string]CameraSample) {
	e.mu.RLock()
	entry, exit := e.entryDebounce, e.exitDebounce
	shards := e.sortedShards()
	e.mu.RUnlock()

	now := e.clock.Now()
	for _, sh := range shards {
		sh.shard.mu.Lock()
		changed := false
		for _, rec := range sortedRecords(sh.shard) {
			present, observed := evaluate(rec, samples)
			if !observed {
				rec.enterAt = nil
				rec.exitAt = nil
				continue
			}
			if step(sh.shard, rec, present, now, entry, exit) {
				changed = true
				e.publishSpot(rec)
			}
		}
		if changed {
			e.publishStats(sh.spaceID, sh.shard)
		}
		sh.shard.mu.Unlock()
	}
}

// evaluate ORs the spot's views: occupied in any alive camera means
// occupied. observed is false when no view has an alive sample.
func evaluate(rec *spotRecord, samples map[string]CameraSample) (present, observed bool) {
	for _, view := range rec.spot.Views {
		sample, ok := samples[view.CameraID]
		if !ok || !sample.Alive {
			continue
		}
		observed = true
		if detect.SpotOccupied(view.Rect, sample.Detections) {
			return true, true
		}
	}
	return false, observed
}

// step advances the debounce state machine and returns whether the
// occupied flag flipped. Caller holds the shard mutex.
func step(shard *spaceShard, rec *spotRecord, present bool, now time.Time, entry, exit time.Duration) bool {
	if rec.occupied == present {
		rec.enterAt = nil
		rec.exitAt = nil
		return false
	}
	if present {
		rec.exitAt = nil
		if rec.enterAt == nil {
			t := now
			rec.enterAt = &t
		}
		if now.Sub(*rec.enterAt) < entry {
			return false
		}
		setOccupied(shard, rec, true, now)
		return true
	}
	rec.enterAt = nil
	if exit > 0 {
		if rec.exitAt == nil {
			t := now
			rec.exitAt = &t
		}
		if now.Sub(*rec.exitAt) < exit {
			return false
		}
	}
	setOccupied(shard, rec, false, now)
	return true
}

func setOccupied(shard *spaceShard, rec *spotRecord, occupied bool, now time.Time) {
	rec.occupied = occupied
	rec.enterAt = nil
	rec.exitAt = nil
	t := now
	rec.since = &t
	// No-park zones are monitored but never draw a sequence number.
	if occupied && rec.spot.Type != store.SpotTypeNoPark {
		rec.sequence = shard.pool.acquire()
	} else if rec.sequence != 0 {
		shard.pool.release(rec.sequence)
		rec.sequence = 0
	}
	monitoring.Logf("[occupancy] spot %s (%s) -> occupied=%v seq=%d",
		rec.spot.ID, rec.spot.Label, occupied, rec.sequence)
}

// SetSpotState forces a spot's occupancy, bypassing the debounce.
func (e *Engine) SetSpotState(spotID string, occupied bool) (State, error) {
	e.mu.RLock()
	spaceID, ok := e.spaceOf[spotID]
	var shard *spaceShard
	if ok {
		shard = e.shards[spaceID]
	}
	e.mu.RUnlock()
	if !ok {
		return State{}, fault.Errorf(fault.KindNotFound, "spot %s not tracked", spotID)
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	rec, ok := shard.records[spotID]
	if !ok {
		return State{}, fault.Errorf(fault.KindNotFound, "spot %s not tracked", spotID)
	}
	if rec.occupied != occupied {
		setOccupied(shard, rec, occupied, e.clock.Now())
		e.publishSpot(rec)
		e.publishStats(spaceID, shard)
	}
	return recState(rec), nil
}

// SetSpotStates forces several spots at once, emitting a single bulk
// event plus stats per touched space. Shards are locked in space order
// so overlapping bulk calls cannot deadlock.
func (e *Engine) SetSpotStates(updates map[string]bool) ([]State, error) {
	e.mu.RLock()
	bySpace := make(map[string][]string)
	for spotID := range updates {
		spaceID, ok := e.spaceOf[spotID]
		if !ok {
			e.mu.RUnlock()
			return nil, fault.Errorf(fault.KindNotFound, "spot %s not tracked", spotID)
		}
		bySpace[spaceID] = append(bySpace[spaceID], spotID)
	}
	spaceIDs := make([]string, 0, len(bySpace))
	for spaceID := range bySpace {
		spaceIDs = append(spaceIDs, spaceID)
	}
	sort.Strings(spaceIDs)
	shards := make([]*spaceShard, len(spaceIDs))
	for i, spaceID := range spaceIDs {
		shards[i] = e.shards[spaceID]
	}
	e.mu.RUnlock()

	for _, shard := range shards {
		shard.mu.Lock()
	}
	defer func() {
		for _, shard := range shards {
			shard.mu.Unlock()
		}
	}()

	now := e.clock.Now()
	var states []State
	var changedStats []func()
	for i, spaceID := range spaceIDs {
		shard := shards[i]
		changed := false
		for _, spotID := range bySpace[spaceID] {
			rec, ok := shard.records[spotID]
			if !ok {
				return nil, fault.Errorf(fault.KindNotFound, "spot %s not tracked", spotID)
			}
			if rec.occupied != updates[spotID] {
				setOccupied(shard, rec, updates[spotID], now)
				changed = true
			}
			states = append(states, recState(rec))
		}
		if changed {
			id, sh := spaceID, shard
			changedStats = append(changedStats, func() { e.publishStats(id, sh) })
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SpotID < states[j].SpotID })

	if e.bus != nil && len(changedStats) > 0 {
		e.bus.Publish(events.Event{Type: events.TypeBulkUpdate, Payload: states})
	}
	for _, publish := range changedStats {
		publish()
	}
	return states, nil
}

// States returns the current state of every tracked spot, ordered by
// space then spot number.
func (e *Engine) States() []State {
	e.mu.RLock()
	shards := e.sortedShards()
	e.mu.RUnlock()

	var out []State
	for _, sh := range shards {
		sh.shard.mu.Lock()
		for _, rec := range sortedRecords(sh.shard) {
			out = append(out, recState(rec))
		}
		sh.shard.mu.Unlock()
	}
	return out
}

// SpaceStates returns the states of one space's spots.
func (e *Engine) SpaceStates(spaceID string) []State {
	e.mu.RLock()
	shard := e.shards[spaceID]
	e.mu.RUnlock()
	if shard == nil {
		return nil
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	var out []State
	for _, rec := range sortedRecords(shard) {
		out = append(out, recState(rec))
	}
	return out
}

// Stats aggregates one space.
func (e *Engine) Stats(spaceID string) SpaceStats {
	e.mu.RLock()
	shard := e.shards[spaceID]
	e.mu.RUnlock()
	if shard == nil {
		return SpaceStats{SpaceID: spaceID}
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return statsLocked(spaceID, shard)
}

// statsLocked aggregates a space's parking spots. No-park zones are
// excluded: a monitored no-park zone is not a spot a driver can take.
func statsLocked(spaceID string, shard *spaceShard) SpaceStats {
	stats := SpaceStats{SpaceID: spaceID}
	for _, rec := range shard.records {
		if rec.spot.Type == store.SpotTypeNoPark {
			continue
		}
		stats.Total++
		if rec.occupied {
			stats.Occupied++
		} else {
			stats.Free++
		}
	}
	return stats
}

func (e *Engine) publishSpot(rec *spotRecord) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: events.TypeSpotUpdate, Payload: recState(rec)})
}

func (e *Engine) publishStats(spaceID string, shard *spaceShard) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: events.TypeSpaceStats, Payload: statsLocked(spaceID, shard)})
}

func recState(rec *spotRecord) State {
	return State{
		SpotID:   rec.spot.ID,
		SpaceID:  rec.spot.SpaceID,
		Label:    rec.spot.Label,
		Number:   rec.spot.Number,
		Occupied: rec.occupied,
		Sequence: rec.sequence,
		Since:    rec.since,
	}
}

type shardEntry struct {
	spaceID string
	shard   *spaceShard
}

// sortedShards snapshots the shard set in space order. Caller holds the
// registry lock.
func (e *Engine) sortedShards() []shardEntry {
	out := make([]shardEntry, 0, len(e.shards))
	for spaceID, shard := range e.shards {
		out = append(out, shardEntry{spaceID, shard})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].spaceID < out[j].spaceID })
	return out
}

// sortedRecords orders a shard's records by spot number. Caller holds
// the shard mutex.
func sortedRecords(shard *spaceShard) []*spotRecord {
	recs := make([]*spotRecord, 0, len(shard.records))
	for _, rec := range shard.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].spot.Number < recs[j].spot.Number })
	return recs
}

// pool exposes a space's sequence pool for tests.
func (e *Engine) pool(spaceID string) *sequencePool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shardFor(spaceID).pool
}
