package handler

import (
	"context"
	"log"
	"time"

	"github.com/dplane/pgsentineld/internal/cluster"
	"github.com/dplane/pgsentineld/internal/connstr"
)

// ReplicaHandler is activated when the local node's observed role is
// STANDBY. It verifies upstream tracking and arbitrates failover
// promotion.
type ReplicaHandler struct {
	actions        Actions
	failoverTimeout time.Duration
	logger         *log.Logger
}

func NewReplicaHandler(actions Actions, failoverTimeout time.Duration, logger *log.Logger) *ReplicaHandler {
	return &ReplicaHandler{actions: actions, failoverTimeout: failoverTimeout, logger: logger}
}

// Handle runs the replica-side decisions for one tick against snap, whose
// local node is assumed to already be the observed STANDBY.
func (h *ReplicaHandler) Handle(ctx context.Context, snap *cluster.Snapshot, local cluster.NodeID) {
	if !h.actions.NetworkIsLive(ctx) {
		h.logger.Printf("replica: local network gate failed, skipping this tick")
		return
	}

	primaries := snap.ConnectedPrimaries()
	switch len(primaries) {
	case 1:
		var primary cluster.NodeID
		for id := range primaries {
			primary = id
		}
		h.followThePrimary(ctx, snap, local, primary)
	case 0:
		h.arbitrateFailover(ctx, snap, local)
	default:
		// Multiple primaries: wait for primary-side arbitration to converge.
	}
}

func (h *ReplicaHandler) followThePrimary(ctx context.Context, snap *cluster.Snapshot, local, primary cluster.NodeID) {
	localObs, ok := snap.Observation(local)
	if !ok || !localObs.Connected {
		return
	}

	localConn, err := connstr.Parse(localObs.PrimaryConnInfo)
	if err != nil {
		h.logger.Printf("replica: could not parse local primary_conninfo, skipping comparison this tick: %v", err)
		return
	}

	primaryConnStr, ok := snap.ConnectionString(primary)
	if !ok {
		return
	}
	configuredConn, err := connstr.Parse(primaryConnStr)
	if err != nil {
		h.logger.Printf("replica: could not parse configured connection string for %s, skipping comparison this tick: %v", primary, err)
		return
	}

	if localConn["host"] == configuredConn["host"] &&
		localConn["user"] == configuredConn["user"] &&
		localConn["password"] == configuredConn["password"] {
		return
	}

	h.logger.Printf("replica: primary_conninfo does not match observed primary %s, rewriting", primary)
	if err := h.actions.AlterAndReload(ctx, "primary_conninfo", primaryConnStr); err != nil {
		h.logger.Printf("replica: rewriting primary_conninfo failed: %v", err)
	}
}

func (h *ReplicaHandler) arbitrateFailover(ctx context.Context, snap *cluster.Snapshot, local cluster.NodeID) {
	since := snap.NoPrimarySince()
	if since.IsZero() || time.Since(since) < h.failoverTimeout {
		return
	}

	if !isFailoverWinner(snap, local) {
		return
	}

	h.logger.Printf("replica: promoting (no primary for >= %s, highest replication position)", h.failoverTimeout)
	if err := h.actions.Promote(ctx); err != nil {
		h.logger.Printf("replica: promote failed: %v", err)
	}
}

// isFailoverWinner reports whether local is the unique node with the
// highest ReplicationPositionNumber among all connected replicas, using
// stable iteration over the configured node order so that ties are broken
// deterministically (first-seen wins) the same way on every instance.
func isFailoverWinner(snap *cluster.Snapshot, local cluster.NodeID) bool {
	replicas := snap.ConnectedReplicas()

	var (
		winner    cluster.NodeID
		winnerPos uint64
		winnerSet bool
	)
	for _, id := range snap.Order() {
		if _, isReplica := replicas[id]; !isReplica {
			continue
		}
		obs, ok := snap.Observation(id)
		if !ok {
			continue
		}
		if !winnerSet || obs.ReplicationPositionNumber > winnerPos {
			winner, winnerPos, winnerSet = id, obs.ReplicationPositionNumber, true
		}
	}

	return winnerSet && winner == local
}
