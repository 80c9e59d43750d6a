// Package monitor implements MonitorLoop: the periodic driver that keeps
// the local database up, refreshes the cluster snapshot, dispatches to
// the role-appropriate handler, and serves a read-only status endpoint
// concurrently — in the ticker-plus-stop-channel style of the teacher's
// BackgroundMonitor.
package monitor

import (
	"context"
	"log"
	"time"

	"github.com/dplane/pgsentineld/internal/cluster"
)

// Ensurer is the subset of LocalActions the loop needs to keep the local
// database running before every tick.
type Ensurer interface {
	EnsureUp(ctx context.Context) error
	IsUp(ctx context.Context) bool
}

// RoleHandler dispatches on the observed local role for one tick.
type RoleHandler interface {
	Handle(ctx context.Context, snap *cluster.Snapshot, local cluster.NodeID)
}

// Loop is the control goroutine: one tick per scan period, forever, until
// Stop is called.
type Loop struct {
	snapshot *cluster.Snapshot
	local    cluster.NodeID
	ensurer  Ensurer
	primary  RoleHandler
	replica  RoleHandler
	period   time.Duration
	logger   *log.Logger

	stopCh chan struct{}
}

// New builds a Loop over an already-constructed Snapshot and the two role
// handlers built for this instance's configuration.
func New(snapshot *cluster.Snapshot, local cluster.NodeID, ensurer Ensurer, primary, replica RoleHandler, period time.Duration, logger *log.Logger) *Loop {
	return &Loop{
		snapshot: snapshot,
		local:    local,
		ensurer:  ensurer,
		primary:  primary,
		replica:  replica,
		period:   period,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Run drives the tick loop until Stop is called. The period is a minimum
// inter-tick delay, not a precise schedule: a tick that blocks on a slow
// command or connection simply pushes the next tick later.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.runTick(ctx)

		select {
		case <-l.stopCh:
			return
		case <-time.After(l.period):
		}
	}
}

// Stop signals Run to exit once its current tick finishes; a pending sleep
// between ticks is cut short. In-flight external commands and connections
// run to completion; there is no forced interruption.
func (l *Loop) Stop() { close(l.stopCh) }

func (l *Loop) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("tick panicked, continuing: %v", r)
		}
	}()

	if err := l.ensurer.EnsureUp(ctx); err != nil {
		l.logger.Printf("ensure local db up failed: %v", err)
		return
	}
	if !l.ensurer.IsUp(ctx) {
		l.logger.Printf("local db still not up after EnsureUp, skipping rest of tick")
		return
	}

	l.snapshot.Refresh(ctx)

	obs, ok := l.snapshot.Observation(l.local)
	if !ok {
		l.logger.Printf("local node %s is not in the configured cluster, skipping tick", l.local)
		return
	}
	if !obs.Connected {
		l.logger.Printf("local node %s is not connected this tick, skipping dispatch", l.local)
		return
	}

	switch obs.Role {
	case cluster.RoleMaster:
		l.primary.Handle(ctx, l.snapshot, l.local)
	case cluster.RoleStandby:
		l.replica.Handle(ctx, l.snapshot, l.local)
	default:
		l.logger.Printf("local node %s connected with unknown role, skipping dispatch", l.local)
	}
}
