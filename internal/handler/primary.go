// Package handler implements PrimaryHandler and ReplicaHandler: the
// arbitration logic that decides, from a just-refreshed Snapshot alone,
// whether the local node must change anything about itself.
package handler

import (
	"context"
	"log"
	"time"

	"github.com/dplane/pgsentineld/internal/cluster"
)

// Actions is the subset of LocalActions the handlers need. Kept as an
// interface so handler decisions can be unit tested without shelling out
// or opening a database connection.
type Actions interface {
	AlterAndReload(ctx context.Context, name, value string) error
	DowngradeByResync(ctx context.Context, masterConnStr string) error
	Promote(ctx context.Context) error
	NetworkIsLive(ctx context.Context) bool
}

// PrimaryHandler is activated when the local node's observed role is
// MASTER. It maintains synchronous_standby_names and arbitrates
// split-brain downgrade.
type PrimaryHandler struct {
	actions         Actions
	downgradeTimeout time.Duration
	logger          *log.Logger
}

func NewPrimaryHandler(actions Actions, downgradeTimeout time.Duration, logger *log.Logger) *PrimaryHandler {
	return &PrimaryHandler{actions: actions, downgradeTimeout: downgradeTimeout, logger: logger}
}

// Handle runs the primary-side decisions for one tick against snap, whose
// local node is assumed to already be the observed MASTER.
func (h *PrimaryHandler) Handle(ctx context.Context, snap *cluster.Snapshot, local cluster.NodeID) {
	h.maintainSynchronousStandbyNames(ctx, snap, local)
	h.arbitrateSplitBrain(ctx, snap, local)
}

func (h *PrimaryHandler) maintainSynchronousStandbyNames(ctx context.Context, snap *cluster.Snapshot, local cluster.NodeID) {
	localObs, ok := snap.Observation(local)
	if !ok || !localObs.Connected {
		return
	}

	replicaCount := len(snap.ConnectedReplicas())
	switch {
	case replicaCount == 0 && localObs.SynchronousStandbyNames != "":
		if err := h.actions.AlterAndReload(ctx, "synchronous_standby_names", ""); err != nil {
			h.logger.Printf("primary: clearing synchronous_standby_names failed: %v", err)
		}
	case replicaCount >= 1 && localObs.SynchronousStandbyNames != "*":
		if err := h.actions.AlterAndReload(ctx, "synchronous_standby_names", "*"); err != nil {
			h.logger.Printf("primary: setting synchronous_standby_names to '*' failed: %v", err)
		}
	}
}

func (h *PrimaryHandler) arbitrateSplitBrain(ctx context.Context, snap *cluster.Snapshot, local cluster.NodeID) {
	primaries := snap.ConnectedPrimaries()
	if len(primaries) <= 1 {
		return
	}

	since := snap.MultiPrimarySince()
	if since.IsZero() || time.Since(since) < h.downgradeTimeout {
		return
	}

	leader, leaderObs, ok := pickSplitBrainLeader(snap, primaries)
	if !ok {
		return
	}
	if leader == local {
		return
	}

	localObs, ok := snap.Observation(local)
	if !ok || localObs.DBSizeBytes == nil {
		return
	}
	if leaderObs.DBSizeBytes == nil {
		return
	}

	if *leaderObs.DBSizeBytes <= *localObs.DBSizeBytes {
		// Tie or (impossibly, since leader is chosen as strictly greatest)
		// smaller: neither side may yield on a tie.
		return
	}

	masterConnStr, ok := snap.ConnectionString(leader)
	if !ok {
		h.logger.Printf("primary: no configured connection string for split-brain leader %s, cannot downgrade", leader)
		return
	}

	h.logger.Printf("primary: downgrading to replica of %s (split-brain, leader db_size=%d local db_size=%d)",
		leader, *leaderObs.DBSizeBytes, *localObs.DBSizeBytes)
	if err := h.actions.DowngradeByResync(ctx, masterConnStr); err != nil {
		h.logger.Printf("primary: downgrade failed: %v", err)
	}
}

// pickSplitBrainLeader scans the connected primaries in configured order,
// tracking a running "strictly largest so far" leader: a later node only
// replaces the leader when its db_size_bytes is strictly greater, never on
// a tie. This gives deterministic first-seen-wins behavior when two or
// more primaries tie for the largest size (base spec §8 scenario 5: sizes
// {A:100, B:200, C:200} pick B, the first node to reach 200, as leader;
// C's subsequent tie against the leader is resolved at the call site by
// the leader-vs-local equality check, not here). Nodes with a null size
// are skipped entirely; if every primary has a null size, no leader is
// ever set and ok is false.
func pickSplitBrainLeader(snap *cluster.Snapshot, primaries map[cluster.NodeID]struct{}) (cluster.NodeID, cluster.NodeObservation, bool) {
	var (
		leader    cluster.NodeID
		leaderObs cluster.NodeObservation
		leaderSet bool
	)

	for _, id := range snap.Order() {
		if _, isPrimary := primaries[id]; !isPrimary {
			continue
		}
		obs, ok := snap.Observation(id)
		if !ok || obs.DBSizeBytes == nil {
			continue
		}
		if !leaderSet || *obs.DBSizeBytes > *leaderObs.DBSizeBytes {
			leader, leaderObs, leaderSet = id, obs, true
		}
	}

	return leader, leaderObs, leaderSet
}
