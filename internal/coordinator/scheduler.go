package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

// Config holds the configuration for a scope scheduler.
type Config struct {
	// DefaultSlots is how many scopes a worker holds at once unless it
	// reports otherwise.
	DefaultSlots int

	// LivenessTimeout is how long a worker may stay silent before it is
	// reported stalled. Zero disables the check.
	LivenessTimeout time.Duration

	// LivenessInterval is the interval between liveness checks.
	LivenessInterval time.Duration

	// EventBuffer is the buffer size of each Watch channel.
	EventBuffer int
}

// DefaultConfig returns a default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultSlots:     2,
		LivenessTimeout:  60 * time.Second,
		LivenessInterval: 10 * time.Second,
		EventBuffer:      100,
	}
}

var _ Scheduler = (*ScopeScheduler)(nil)

// workerState is the scheduler's bookkeeping for one worker.
type workerState struct {
	info        *types.WorkerInfo
	slots       int
	outstanding map[string]int // scope -> item count
	load        int            // outstanding items
	inbox       []*types.Assignment
	signal      chan struct{}
	stalled     bool
}

func (w *workerState) free() int {
	return w.slots - len(w.outstanding)
}

// wake notifies a waiting NextAssignment without blocking.
func (w *workerState) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// ScopeScheduler assigns scopes to the least loaded worker.
//
// Every mutation happens under mu, so registration, completion and
// disconnection events from concurrent worker connections are serialized.
type ScopeScheduler struct {
	config    *Config
	extractor scope.Extractor
	registry  WorkerRegistry
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	phase     types.SchedulerPhase
	collected bool
	cancelled bool
	queue     *workQueue
	units     map[string]*types.WorkUnit
	rank      map[string]int    // scope -> position in the initial queue
	owner     map[string]string // assigned scope -> worker
	completed []string
	done      map[string]bool
	failed    map[string]string // scope -> worker that lost it
	workers   map[string]*workerState
	order     []string // active workers in registration order

	finished    chan struct{}
	cancelledCh chan struct{}
	finishOnce  sync.Once
	cancelOnce  sync.Once
	subscribers []chan *types.SchedulerEvent
	subMu       sync.RWMutex
}

// NewScopeScheduler creates a scope scheduler.
func NewScopeScheduler(config *Config, extractor scope.Extractor, registry WorkerRegistry, log *zap.Logger) *ScopeScheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultSlots <= 0 {
		config.DefaultSlots = 1
	}
	if config.LivenessInterval <= 0 {
		config.LivenessInterval = 10 * time.Second
	}
	if extractor == nil {
		extractor = scope.NewParameter(scope.LoadScope, log)
	}
	if registry == nil {
		registry = NewInMemoryWorkerRegistry()
	}
	if log == nil {
		log = logger.L()
	}

	return &ScopeScheduler{
		config:      config,
		extractor:   extractor,
		registry:    registry,
		log:         log.Named("scheduler"),
		now:         time.Now,
		phase:       types.PhaseCollecting,
		queue:       &workQueue{},
		units:       make(map[string]*types.WorkUnit),
		rank:        make(map[string]int),
		owner:       make(map[string]string),
		done:        make(map[string]bool),
		failed:      make(map[string]string),
		workers:     make(map[string]*workerState),
		finished:    make(chan struct{}),
		cancelledCh: make(chan struct{}),
	}
}

// Collect groups the selected items into scopes.
func (s *ScopeScheduler) Collect(ctx context.Context, items []*types.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collected {
		return ErrAlreadyCollected
	}
	if s.cancelled {
		return ErrCancelled
	}

	s.queue, s.units = buildWorkQueue(items, s.extractor)
	for i, key := range s.queue.Scopes() {
		s.rank[key] = i
	}
	s.collected = true

	s.log.Info("items collected",
		zap.Int("items", len(items)),
		zap.Int("scopes", s.queue.Len()))

	s.advance()
	return nil
}

// Register adds a worker to the pool.
func (s *ScopeScheduler) Register(ctx context.Context, worker *types.WorkerInfo) (*types.WorkerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return nil, ErrCancelled
	}

	info, err := s.registry.Register(ctx, worker)
	if err != nil {
		return nil, err
	}

	slots := info.Slots
	if slots <= 0 {
		slots = s.config.DefaultSlots
	}
	s.workers[info.ID] = &workerState{
		info:        info,
		slots:       slots,
		outstanding: make(map[string]int),
		signal:      make(chan struct{}, 1),
	}
	s.order = append(s.order, info.ID)

	s.log.Info("worker registered",
		zap.String("worker", info.ID),
		zap.Int("seq", info.Seq),
		zap.Int("slots", slots))
	s.emit(&types.SchedulerEvent{Type: types.SchedulerEventWorkerRegistered, WorkerID: info.ID})

	s.advance()
	return info, nil
}

// ReportCapacity sets a worker's slot count and returns its free slots
// after scheduling.
func (s *ScopeScheduler) ReportCapacity(ctx context.Context, workerID string, slots int) (int, error) {
	if slots <= 0 {
		return 0, ErrInvalidSlots
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	w.slots = slots
	s.touch(ctx, w)

	s.advance()
	return max(w.free(), 0), nil
}

// NextAssignment returns the next scope for a worker, waiting until one is
// assigned. It returns ErrNoMoreWork when all scopes are handed out and the
// worker's inbox is empty, and ErrCancelled once the run is cancelled.
func (s *ScopeScheduler) NextAssignment(ctx context.Context, workerID string) (*types.Assignment, error) {
	for {
		s.mu.Lock()
		w, ok := s.workers[workerID]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
		}
		if s.cancelled {
			s.mu.Unlock()
			return nil, ErrCancelled
		}
		if len(w.inbox) > 0 {
			a := w.inbox[0]
			w.inbox = w.inbox[1:]
			s.mu.Unlock()
			return a, nil
		}
		if s.collected && s.queue.Len() == 0 {
			s.mu.Unlock()
			return nil, ErrNoMoreWork
		}
		signal := w.signal
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-signal:
		}
	}
}

// ReportCompletion marks a scope finished by its owner.
func (s *ScopeScheduler) ReportCompletion(ctx context.Context, workerID string, scopeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	if _, known := s.units[scopeKey]; !known {
		return fmt.Errorf("%w: %s", ErrUnknownScope, scopeKey)
	}

	owner, assigned := s.owner[scopeKey]
	if !assigned || owner != workerID {
		msg := "completion reported by a worker that does not own the scope"
		if s.done[scopeKey] {
			msg = "scope already completed"
		}
		return s.inconsistency(scopeKey, owner, workerID, msg)
	}

	s.release(w, scopeKey)
	s.done[scopeKey] = true
	s.completed = append(s.completed, scopeKey)
	s.touch(ctx, w)

	s.log.Debug("scope completed", zap.String("worker", workerID), zap.String("scope", scopeKey))
	s.emit(&types.SchedulerEvent{Type: types.SchedulerEventScopeCompleted, WorkerID: workerID, Scope: scopeKey})

	s.advance()
	return nil
}

// Heartbeat records liveness. The returned flag asks the worker to stop
// after its current item.
func (s *ScopeScheduler) Heartbeat(ctx context.Context, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	s.touch(ctx, w)
	s.advance()
	return s.cancelled, nil
}

// Disconnect removes a worker. Its outstanding scopes are reported in a
// worker_failure event and are not retried.
func (s *ScopeScheduler) Disconnect(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}

	lost := maputil.Keys(w.outstanding)
	sort.Strings(lost)
	for _, key := range lost {
		s.release(w, key)
		s.failed[key] = workerID
	}

	delete(s.workers, workerID)
	for i, id := range s.order {
		if id == workerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := s.registry.Unregister(ctx, workerID); err != nil {
		s.log.Warn("unregister worker", zap.String("worker", workerID), zap.Error(err))
	}
	w.wake()

	if len(lost) > 0 {
		s.log.Error("worker disconnected with outstanding scopes",
			zap.String("worker", workerID),
			zap.Strings("scopes", lost))
		s.emit(&types.SchedulerEvent{
			Type:     types.SchedulerEventWorkerFailure,
			WorkerID: workerID,
			Scopes:   lost,
			Message:  "worker disconnected with outstanding scopes",
		})
	} else {
		s.log.Info("worker disconnected", zap.String("worker", workerID))
		s.emit(&types.SchedulerEvent{Type: types.SchedulerEventWorkerDisconnected, WorkerID: workerID})
	}

	s.advance()
	return nil
}

// Run checks worker liveness until every scope is settled or ctx ends.
// When ctx ends the run is cancelled: no new scope is assigned and workers
// are told to stop after their current item.
func (s *ScopeScheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.config.LivenessTimeout > 0 {
		ticker := time.NewTicker(s.config.LivenessInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.cancel(ctx.Err())
			return ctx.Err()
		case <-s.finished:
			return nil
		case <-tick:
			s.checkLiveness(ctx)
		}
	}
}

// Wait blocks until every scope is settled.
func (s *ScopeScheduler) Wait(ctx context.Context) error {
	select {
	case <-s.finished:
		return nil
	case <-s.cancelledCh:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the run reaches the done phase.
func (s *ScopeScheduler) Done() <-chan struct{} {
	return s.finished
}

// Phase returns the current phase.
func (s *ScopeScheduler) Phase() types.SchedulerPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns the current scheduling state.
func (s *ScopeScheduler) Snapshot() *types.SchedulerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &types.SchedulerSnapshot{
		Phase:     s.phase,
		Pending:   s.queue.Scopes(),
		Assigned:  make(map[string]string, len(s.owner)),
		Completed: append([]string{}, s.completed...),
		Failed:    make(map[string]string, len(s.failed)),
		Workers:   make([]types.WorkerSnapshot, 0, len(s.order)),
		Cancelled: s.cancelled,
	}
	for k, v := range s.owner {
		snap.Assigned[k] = v
	}
	for k, v := range s.failed {
		snap.Failed[k] = v
	}
	for _, id := range s.order {
		snap.Workers = append(snap.Workers, s.workerSnapshot(context.Background(), s.workers[id]))
	}
	return snap
}

// Workers returns the active workers matching filter, in registration order.
// A nil filter matches every worker.
func (s *ScopeScheduler) Workers(ctx context.Context, filter *WorkerFilter) ([]types.WorkerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := s.registry.ListWorkers(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := make([]types.WorkerSnapshot, 0, len(infos))
	for _, info := range infos {
		w, ok := s.workers[info.ID]
		if !ok {
			continue
		}
		result = append(result, s.workerSnapshot(ctx, w))
	}
	return result, nil
}

// workerSnapshot must be called with mu held.
func (s *ScopeScheduler) workerSnapshot(ctx context.Context, w *workerState) types.WorkerSnapshot {
	outstanding := maputil.Keys(w.outstanding)
	sort.Strings(outstanding)
	state := types.WorkerStateOnline
	if w.stalled {
		state = types.WorkerStateStalled
	}
	snap := types.WorkerSnapshot{
		ID:           w.info.ID,
		Name:         w.info.Name,
		Labels:       w.info.Labels,
		Seq:          w.info.Seq,
		State:        state,
		Slots:        w.slots,
		Outstanding:  outstanding,
		Load:         w.load,
		RegisteredAt: w.info.RegisteredAt,
	}
	if status, err := s.registry.GetWorkerStatus(ctx, w.info.ID); err == nil {
		snap.LastSeen = status.LastSeen
	}
	return snap
}

// Watch returns a channel of scheduler events, closed when ctx ends.
func (s *ScopeScheduler) Watch(ctx context.Context) (<-chan *types.SchedulerEvent, error) {
	ch := make(chan *types.SchedulerEvent, s.config.EventBuffer)

	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeSubscriber(ch)
		close(ch)
	}()

	return ch, nil
}

// advance moves the state machine forward. Callers hold mu.
func (s *ScopeScheduler) advance() {
	if s.cancelled || s.phase == types.PhaseDone {
		return
	}

	if s.phase == types.PhaseCollecting {
		if !s.collected || len(s.order) == 0 {
			return
		}
		s.setPhase(types.PhaseDistributing)
		s.distribute()
		s.setPhase(types.PhaseDraining)
	} else {
		s.distribute()
	}

	if s.queue.Len() == 0 {
		// Idle workers learn that nothing else is coming.
		s.wakeAll()
		if len(s.owner) == 0 {
			s.setPhase(types.PhaseDone)
			s.finishOnce.Do(func() { close(s.finished) })
		}
	}
}

// distribute assigns pending scopes while some worker has a free slot.
func (s *ScopeScheduler) distribute() {
	for s.queue.Len() > 0 {
		w := s.leastLoaded()
		if w == nil {
			return
		}
		unit := s.queue.Pop()
		if err := s.assign(w, unit); err != nil {
			s.failed[unit.Scope] = w.info.ID
		}
	}
}

// leastLoaded picks the candidate with the fewest outstanding items among
// workers with a free slot. Ties go to the earliest registration.
func (s *ScopeScheduler) leastLoaded() *workerState {
	var best *workerState
	for _, id := range s.order {
		w := s.workers[id]
		if w.stalled || w.free() <= 0 {
			continue
		}
		if best == nil || w.load < best.load {
			best = w
		}
	}
	return best
}

// assign hands a whole scope to a worker.
func (s *ScopeScheduler) assign(w *workerState, unit *types.WorkUnit) error {
	if owner, ok := s.owner[unit.Scope]; ok {
		return s.inconsistency(unit.Scope, owner, w.info.ID, "scope is already assigned")
	}

	s.owner[unit.Scope] = w.info.ID
	w.outstanding[unit.Scope] = len(unit.Items)
	w.load += len(unit.Items)

	a := &types.Assignment{
		ID:         uuid.New().String(),
		WorkerID:   w.info.ID,
		Scope:      unit.Scope,
		Items:      unit.Items,
		AssignedAt: s.now(),
	}
	w.inbox = append(w.inbox, a)
	w.wake()

	s.log.Info("scope assigned",
		zap.String("scope", unit.Scope),
		zap.String("worker", w.info.ID),
		zap.Int("items", len(unit.Items)),
		zap.Int("load", w.load))
	s.emit(&types.SchedulerEvent{Type: types.SchedulerEventScopeAssigned, WorkerID: w.info.ID, Scope: unit.Scope})
	return nil
}

// release drops a scope from a worker's bookkeeping.
func (s *ScopeScheduler) release(w *workerState, scopeKey string) {
	w.load -= w.outstanding[scopeKey]
	delete(w.outstanding, scopeKey)
	delete(s.owner, scopeKey)
	for i, a := range w.inbox {
		if a.Scope == scopeKey {
			w.inbox = append(w.inbox[:i], w.inbox[i+1:]...)
			break
		}
	}
}

func (s *ScopeScheduler) inconsistency(scopeKey, owner, worker, msg string) error {
	err := &AssignmentInconsistencyError{Scope: scopeKey, Owner: owner, Worker: worker, Message: msg}
	s.log.Error("assignment inconsistency", zap.Error(err))
	s.emit(&types.SchedulerEvent{
		Type:     types.SchedulerEventAssignmentInconsistency,
		WorkerID: worker,
		Scope:    scopeKey,
		Message:  msg,
	})
	return err
}

// touch records a sign of life for a worker.
func (s *ScopeScheduler) touch(ctx context.Context, w *workerState) {
	if err := s.registry.UpdateHeartbeat(ctx, w.info.ID); err != nil {
		s.log.Warn("update heartbeat", zap.String("worker", w.info.ID), zap.Error(err))
	}
	if w.stalled {
		w.stalled = false
		s.log.Info("worker is alive again", zap.String("worker", w.info.ID))
	}
}

// checkLiveness reports workers that have been silent too long. Stalled
// workers keep their scopes but receive no new ones.
func (s *ScopeScheduler) checkLiveness(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range s.order {
		w := s.workers[id]
		if w.stalled {
			continue
		}
		status, err := s.registry.GetWorkerStatus(ctx, id)
		if err != nil {
			continue
		}
		if now.Sub(status.LastSeen) <= s.config.LivenessTimeout {
			continue
		}

		w.stalled = true
		_ = s.registry.MarkStalled(ctx, id)

		outstanding := maputil.Keys(w.outstanding)
		sort.Strings(outstanding)
		s.log.Warn("worker missed liveness deadline",
			zap.String("worker", id),
			zap.Duration("silent", now.Sub(status.LastSeen)),
			zap.Strings("scopes", outstanding))
		s.emit(&types.SchedulerEvent{
			Type:     types.SchedulerEventWorkerStalled,
			WorkerID: id,
			Scopes:   outstanding,
			Message:  fmt.Sprintf("no heartbeat for %s", now.Sub(status.LastSeen).Round(time.Second)),
		})
	}
}

// cancel stops assignment. Scopes still waiting in an inbox return to the
// queue; scopes already fetched are left to finish their current item.
func (s *ScopeScheduler) cancel(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || s.phase == types.PhaseDone {
		return
	}
	s.cancelled = true

	var returned []*types.WorkUnit
	for _, id := range s.order {
		w := s.workers[id]
		unfetched := make([]*types.WorkUnit, 0, len(w.inbox))
		for _, a := range w.inbox {
			unfetched = append(unfetched, s.units[a.Scope])
		}
		for _, u := range unfetched {
			s.release(w, u.Scope)
		}
		returned = append(returned, unfetched...)
	}
	// Restore the original largest-first order across workers.
	sort.SliceStable(returned, func(i, j int) bool {
		return s.rank[returned[i].Scope] < s.rank[returned[j].Scope]
	})
	s.queue.PushFront(returned...)
	s.wakeAll()
	s.cancelOnce.Do(func() { close(s.cancelledCh) })

	msg := "run cancelled"
	if cause != nil {
		msg = cause.Error()
	}
	s.log.Warn("scheduling cancelled", zap.String("cause", msg), zap.Int("pending", s.queue.Len()))
	s.emit(&types.SchedulerEvent{Type: types.SchedulerEventCancelled, Message: msg})
}

func (s *ScopeScheduler) setPhase(phase types.SchedulerPhase) {
	if s.phase == phase {
		return
	}
	s.log.Info("phase changed", zap.String("from", string(s.phase)), zap.String("to", string(phase)))
	s.phase = phase
	s.emit(&types.SchedulerEvent{Type: types.SchedulerEventPhaseChanged, Phase: phase})
}

func (s *ScopeScheduler) wakeAll() {
	for _, w := range s.workers {
		w.wake()
	}
}

// emit sends an event to all subscribers.
func (s *ScopeScheduler) emit(event *types.SchedulerEvent) {
	event.Time = s.now()
	if event.Phase == "" {
		event.Phase = s.phase
	}

	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// removeSubscriber removes a subscriber channel.
func (s *ScopeScheduler) removeSubscriber(ch chan *types.SchedulerEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}
