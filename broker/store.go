package broker

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"

	"github.com/flwr-go/flower-node/internal/errs"
	"github.com/flwr-go/flower-node/internal/telemetry"
)

// randInt64 samples a signed 64-bit id from a cryptographic source,
// used for both node ids and run ids.
func randInt64() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("broker: randInt64: crypto/rand unavailable: " + err.Error())
	}
	v := int64(binary.BigEndian.Uint64(b[:]))
	if v == math.MinInt64 {
		// avoid the one value with no positive/negative symmetric
		// counterpart; vanishingly unlikely, kept simple over clever.
		v++
	}
	return v
}

// Store is the broker's concurrent in-memory task table. A single
// mutex guards every field; critical sections are O(stored-tasks)
// scans, acceptable at the "tens to hundreds of entries" scale this
// implementation targets.
//
// Store also owns the node registry and run set, since all three are
// mutated under the same lock in the reference design.
type Store struct {
	mu sync.Mutex

	runIDs   map[int64]struct{}
	taskIns  map[string]*TaskIns
	taskRes  map[string]*TaskRes
	nodes    map[int64]nodeEntry
	insOrder []string // preserves store_task_ins iteration order for get_task_ins
	resOrder []string

	nowFn func() time.Time // monotonic-ish clock seam for tests

	defaultPingInterval time.Duration
	createGuard         *catrate.Limiter // rate-limits create_node per category

	log *telemetry.Logger
}

type nodeEntry struct {
	onlineUntil time.Time // monotonic deadline
	pingInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger used for validator rejections
// and GC sweep visibility.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithDefaultPingInterval overrides the ping interval assigned to a
// node on create_node, before any acknowledge_ping.
func WithDefaultPingInterval(d time.Duration) Option {
	return func(s *Store) { s.defaultPingInterval = d }
}

// WithCreateNodeRateLimit rate-limits create_node attempts per
// category (typically a remote address or tenant key), using
// github.com/joeycumines/go-catrate. A nil limiter (the default)
// disables the guard.
func WithCreateNodeRateLimit(limiter *catrate.Limiter) Option {
	return func(s *Store) { s.createGuard = limiter }
}

// New builds an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		runIDs:              make(map[int64]struct{}),
		taskIns:             make(map[string]*TaskIns),
		taskRes:             make(map[string]*TaskRes),
		nodes:               make(map[int64]nodeEntry),
		nowFn:               time.Now,
		defaultPingInterval: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = telemetry.Discard()
	}
	return s
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// CreateRun samples a signed 64-bit run id and adds it to the run set.
func (s *Store) CreateRun() int64 {
	id := randInt64()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if _, exists := s.runIDs[id]; !exists {
			break
		}
		id = randInt64()
	}
	s.runIDs[id] = struct{}{}
	return id
}

// hasRun reports whether run is a known run id. Caller must hold mu.
func (s *Store) hasRun(run int64) bool {
	_, ok := s.runIDs[run]
	return ok
}

// StoreTaskIns validates and admits a TaskIns, minting its task_id.
// Returns ("", false) if validation fails or the run is unknown.
func (s *Store) StoreTaskIns(t *TaskIns) (string, bool) {
	if reasons := validateTaskIns(t); len(reasons) != 0 {
		s.log.Warning().Str("op", "store_task_ins").Log("rejected by validator")
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasRun(t.RunID) {
		return "", false
	}

	id := uuid.NewString()
	t.TaskID = id
	cp := *t
	s.taskIns[id] = &cp
	s.insOrder = append(s.insOrder, id)
	return id, true
}

// StoreTaskRes validates and admits a TaskRes, minting its task_id.
// ancestry[0] is not checked against an extant TaskIns; a late reply
// after a GC sweep is still admitted.
func (s *Store) StoreTaskRes(t *TaskRes) (string, bool) {
	if reasons := validateTaskRes(t); len(reasons) != 0 {
		s.log.Warning().Str("op", "store_task_res").Log("rejected by validator")
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasRun(t.RunID) {
		return "", false
	}

	id := uuid.NewString()
	t.TaskID = id
	cp := *t
	s.taskRes[id] = &cp
	s.resOrder = append(s.resOrder, id)
	return id, true
}

// GetTaskIns returns up to limit undelivered TaskIns matching node (nil
// means anonymous-only), stamping delivered_at on each before return.
func (s *Store) GetTaskIns(node *int64, limit int) []*TaskIns {
	if limit < 1 {
		panic("broker: GetTaskIns: limit must be >= 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*TaskIns
	for _, id := range s.insOrder {
		if len(out) >= limit {
			break
		}
		t, ok := s.taskIns[id]
		if !ok || t.delivered() {
			continue
		}
		if !matchesConsumer(t.Task.Consumer, node) {
			continue
		}
		t.markDelivered(now)
		cp := *t
		out = append(out, &cp)
	}
	return out
}

func matchesConsumer(c Consumer, node *int64) bool {
	if node == nil {
		return c.Anonymous && c.NodeID == 0
	}
	return !c.Anonymous && c.NodeID == *node
}

// GetTaskRes returns up to limit undelivered TaskRes whose ancestry[0]
// is in taskIDs, stamping delivered_at on each before return.
func (s *Store) GetTaskRes(taskIDs map[string]struct{}, limit int) []*TaskRes {
	if limit < 1 {
		panic("broker: GetTaskRes: limit must be >= 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*TaskRes
	for _, id := range s.resOrder {
		if len(out) >= limit {
			break
		}
		t, ok := s.taskRes[id]
		if !ok || t.delivered() {
			continue
		}
		if _, want := taskIDs[t.ancestorID()]; !want {
			continue
		}
		t.markDelivered(now)
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// DeleteTasks deletes, for every id in taskInsIDs, the TaskIns and its
// paired TaskRes, but only when a delivered TaskRes exists for it. A
// TaskIns with no delivered reply is left untouched.
func (s *Store) DeleteTasks(taskInsIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(taskInsIDs))
	for _, id := range taskInsIDs {
		want[id] = struct{}{}
	}

	pairedRes := make(map[string]string) // taskInsID -> taskResID
	for resID, t := range s.taskRes {
		if !t.delivered() {
			continue
		}
		if _, ok := want[t.ancestorID()]; !ok {
			continue
		}
		pairedRes[t.ancestorID()] = resID
	}

	removed := 0
	for insID, resID := range pairedRes {
		delete(s.taskIns, insID)
		delete(s.taskRes, resID)
		removed++
	}
	if removed != 0 {
		s.insOrder = compact(s.insOrder, s.taskIns)
		s.resOrder = compact(s.resOrder, s.taskRes)
		s.log.Debug().Int64("pairs_removed", int64(removed)).
			Int64("num_task_ins", int64(len(s.taskIns))).
			Int64("num_task_res", int64(len(s.taskRes))).
			Log("paired gc sweep")
	}
}

// compact drops order-slice entries whose backing map entry is gone,
// so the slices do not grow unboundedly across GC sweeps.
func compact[T any](order []string, live map[string]T) []string {
	out := order[:0:0]
	for _, id := range order {
		if _, ok := live[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// NumTaskIns returns the current size of the TaskIns table, including
// delivered-not-yet-deleted entries.
func (s *Store) NumTaskIns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taskIns)
}

// NumTaskRes returns the current size of the TaskRes table.
func (s *Store) NumTaskRes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taskRes)
}

// CreateNode samples a signed 64-bit node id from a cryptographic
// source and registers it with the store's configured default ping
// interval (WithDefaultPingInterval), which it returns so callers can
// report the true value rather than assuming a fixed constant.
// category is passed to the optional create-node rate limiter
// (WithCreateNodeRateLimit); callers with no natural category (e.g.
// remote address) may pass "". Returns (0, 0, errs.LifecycleError) if
// the rate limiter rejects the attempt, and (0, 0, nil) on the
// astronomically unlikely id collision.
func (s *Store) CreateNode(category string) (int64, time.Duration, error) {
	if s.createGuard != nil {
		if _, ok := s.createGuard.Allow(category); !ok {
			return 0, 0, errs.NewLifecycleError("create_node: rate limited for category %q", category)
		}
	}

	id := randInt64()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; exists {
		s.log.Warning().Str("op", "create_node").Log("node id collision, failing registration")
		return 0, 0, nil
	}

	now := s.now()
	s.nodes[id] = nodeEntry{
		onlineUntil:  now.Add(s.defaultPingInterval),
		pingInterval: s.defaultPingInterval,
	}
	return id, s.defaultPingInterval, nil
}

// DeleteNode removes node from the registry. Returns a LifecycleError
// if node was never registered.
func (s *Store) DeleteNode(node int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node]; !ok {
		return errs.NewLifecycleError("delete_node: unknown node %d", node)
	}
	delete(s.nodes, node)
	return nil
}

// GetNodes returns the set of node ids alive for run, i.e. registered
// and with online_until in the future. Returns an empty set if run is
// not a known run id.
func (s *Store) GetNodes(run int64) map[int64]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]struct{})
	if !s.hasRun(run) {
		return out
	}

	now := s.now()
	for id, entry := range s.nodes {
		if entry.onlineUntil.After(now) {
			out[id] = struct{}{}
		}
	}
	return out
}

// AcknowledgePing refreshes node's liveness deadline to
// now+pingInterval and updates its recorded ping interval. Returns
// false if node is not registered.
func (s *Store) AcknowledgePing(node int64, pingInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node]; !ok {
		return false
	}
	s.nodes[node] = nodeEntry{
		onlineUntil:  s.now().Add(pingInterval),
		pingInterval: pingInterval,
	}
	return true
}
