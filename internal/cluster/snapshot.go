package cluster

import (
	"context"
	"log"
	"sync"
	"time"
)

// Prober fetches the observable state of one node. Implemented by
// internal/probe.Prober; kept as an interface here so Snapshot can be unit
// tested without a database.
type Prober interface {
	Probe(ctx context.Context, connStr string) NodeObservation
}

// Snapshot is the single mutable object shared between the tick goroutine
// (writer) and the status-endpoint goroutine (reader). One Refresh wholly
// replaces the observation map and the derived sets; nothing inside it is
// ever mutated in place after that swap, so a reader holding a copy from
// Export never observes a torn write.
type Snapshot struct {
	mu sync.RWMutex

	order    []NodeID          // configured iteration order, for deterministic tie-breaks
	connStrs map[NodeID]string // configured node -> connection string

	observations map[NodeID]NodeObservation
	primaries    map[NodeID]struct{}
	replicas     map[NodeID]struct{}

	noPrimarySince    time.Time
	multiPrimarySince time.Time

	logger *log.Logger
	prober Prober
}

// New creates a Snapshot over the statically configured node set. order
// must list the nodes as the operator wrote them in configuration;
// that order is preserved for the lifetime of the Snapshot.
func New(order []NodeID, connStrs map[NodeID]string, prober Prober, logger *log.Logger) *Snapshot {
	obs := make(map[NodeID]NodeObservation, len(order))
	for _, id := range order {
		obs[id] = Disconnected()
	}
	return &Snapshot{
		order:        append([]NodeID(nil), order...),
		connStrs:     connStrs,
		observations: obs,
		primaries:    map[NodeID]struct{}{},
		replicas:     map[NodeID]struct{}{},
		logger:       logger,
		prober:       prober,
	}
}

// Order returns the configured node iteration order. Handlers must use
// this, never a map range, whenever a tie-break depends on "first seen".
func (s *Snapshot) Order() []NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]NodeID(nil), s.order...)
}

// Refresh probes every configured node concurrently and replaces the
// observation map and derived state in one locked swap. Probing itself
// happens without holding the lock, so Export never blocks on network I/O.
func (s *Snapshot) Refresh(ctx context.Context) {
	s.mu.RLock()
	order := append([]NodeID(nil), s.order...)
	connStrs := make(map[NodeID]string, len(s.connStrs))
	for k, v := range s.connStrs {
		connStrs[k] = v
	}
	s.mu.RUnlock()

	results := make(map[NodeID]NodeObservation, len(order))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range order {
		wg.Add(1)
		go func(id NodeID) {
			defer wg.Done()
			obs := s.prober.Probe(ctx, connStrs[id])
			mu.Lock()
			results[id] = obs
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	primaries := map[NodeID]struct{}{}
	replicas := map[NodeID]struct{}{}
	for id, obs := range results {
		if !obs.Connected {
			continue
		}
		switch obs.Role {
		case RoleMaster:
			primaries[id] = struct{}{}
		case RoleStandby:
			replicas[id] = struct{}{}
		default:
			s.logger.Printf("node %s connected but reported unknown role, ignoring", id)
		}
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = results
	s.primaries = primaries
	s.replicas = replicas

	switch len(primaries) {
	case 1:
		s.noPrimarySince = time.Time{}
		s.multiPrimarySince = time.Time{}
	case 0:
		if s.noPrimarySince.IsZero() {
			s.noPrimarySince = now
		}
		s.multiPrimarySince = time.Time{}
	default:
		if s.multiPrimarySince.IsZero() {
			s.multiPrimarySince = now
		}
		s.noPrimarySince = time.Time{}
	}
}

// Observation returns the last-refreshed observation for a node.
func (s *Snapshot) Observation(id NodeID) (NodeObservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obs, ok := s.observations[id]
	return obs, ok
}

// ConnectedPrimaries returns the set of nodes currently observed as a
// connected MASTER.
func (s *Snapshot) ConnectedPrimaries() map[NodeID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySet(s.primaries)
}

// ConnectedReplicas returns the set of nodes currently observed as a
// connected STANDBY.
func (s *Snapshot) ConnectedReplicas() map[NodeID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySet(s.replicas)
}

// NoPrimarySince returns the time the "no connected primary" condition
// first appeared, or the zero Time if no such condition currently holds.
func (s *Snapshot) NoPrimarySince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.noPrimarySince
}

// MultiPrimarySince returns the time the "more than one connected primary"
// condition first appeared, or the zero Time if it does not currently hold.
func (s *Snapshot) MultiPrimarySince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.multiPrimarySince
}

// ConnectionString returns the configured connection string for a node, as
// the operator wrote it, for comparison against a locally reported
// primary_conninfo.
func (s *Snapshot) ConnectionString(id NodeID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.connStrs[id]
	return cs, ok
}

// Export is a defensive, fully independent copy of the current snapshot
// for serving over the read-only status endpoint. It never shares a map
// or slice with the live Snapshot.
type Export struct {
	Observations      map[NodeID]NodeObservation `json:"observations"`
	ConnectedPrimarys []NodeID                   `json:"connected_primaries"`
	ConnectedReplicas []NodeID                   `json:"connected_replicas"`
	NoPrimarySince    *time.Time                 `json:"no_primary_since,omitempty"`
	MultiPrimarySince *time.Time                 `json:"multi_primary_since,omitempty"`
}

func (s *Snapshot) Export() Export {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := make(map[NodeID]NodeObservation, len(s.observations))
	for k, v := range s.observations {
		obs[k] = v
	}

	e := Export{
		Observations:      obs,
		ConnectedPrimarys: setKeys(s.primaries),
		ConnectedReplicas: setKeys(s.replicas),
	}
	if !s.noPrimarySince.IsZero() {
		t := s.noPrimarySince
		e.NoPrimarySince = &t
	}
	if !s.multiPrimarySince.IsZero() {
		t := s.multiPrimarySince
		e.MultiPrimarySince = &t
	}
	return e
}

func copySet(m map[NodeID]struct{}) map[NodeID]struct{} {
	out := make(map[NodeID]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func setKeys(m map[NodeID]struct{}) []NodeID {
	out := make([]NodeID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
