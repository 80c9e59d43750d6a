// Package probe implements NodeProbe: a short-lived database/sql
// connection to one cluster node that fetches the fixed attribute set
// defining its observable state.
package probe

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dplane/pgsentineld/internal/cluster"
)

// Prober probes a single node over a DSN and never returns an error to the
// caller: any failure is folded into a disconnected observation.
type Prober struct {
	// ConnectTimeout bounds the liveness ping. QueryTimeout bounds each
	// individual follow-up query, so one hung attribute never stalls the
	// whole probe past a few multiples of QueryTimeout.
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Logger         *log.Logger
}

// New returns a Prober with the timeouts the monitor loop uses in
// production: a fast connect and a fast per-query budget, since a probe
// runs every scan period and must never pile up.
func New(logger *log.Logger) *Prober {
	return &Prober{
		ConnectTimeout: 5 * time.Second,
		QueryTimeout:   5 * time.Second,
		Logger:         logger,
	}
}

// Probe opens a connection to connStr, runs the liveness check, and on
// success fills in every remaining NodeObservation field. A failure of any
// individual follow-up query leaves that field at its zero value (except
// the recovery check, whose failure records the node as RoleMaster) but
// does not mark the node disconnected.
func (p *Prober) Probe(ctx context.Context, connStr string) cluster.NodeObservation {
	if connStr == "" {
		return cluster.Disconnected()
	}

	connectCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		p.Logger.Printf("probe: open failed: %v", err)
		return cluster.Disconnected()
	}
	defer db.Close()

	if err := db.PingContext(connectCtx); err != nil {
		p.Logger.Printf("probe: ping failed: %v", err)
		return cluster.Disconnected()
	}

	obs := cluster.NodeObservation{
		Connected:               true,
		LastSuccessfulProbeTime: time.Now(),
	}

	inRecovery, err := p.queryBool(ctx, db, "SELECT pg_is_in_recovery()")
	if err != nil {
		p.Logger.Printf("probe: recovery check failed: %v", err)
		obs.Role = cluster.RoleMaster
	} else if inRecovery {
		obs.Role = cluster.RoleStandby
	} else {
		obs.Role = cluster.RoleMaster
	}

	obs.DBTime = p.queryString(ctx, db, "SELECT to_char(now(), 'YYYY-MM-DD HH24:MI:SS')")
	obs.DBSizeBytes = p.queryNullableInt64(ctx, db, "SELECT sum(pg_database_size(datname))::bigint FROM pg_database")
	obs.ReplicationPosition = p.queryString(ctx, db,
		"SELECT CASE WHEN pg_is_in_recovery() THEN pg_last_wal_receive_lsn()::text ELSE pg_current_wal_lsn()::text END")
	obs.ReplicationPositionNumber = cluster.ParseReplicationPosition(obs.ReplicationPosition)

	obs.SynchronousStandbyNames = p.queryString(ctx, db, "SHOW synchronous_standby_names")
	obs.PrimaryConnInfo = p.queryString(ctx, db, "SHOW primary_conninfo")
	obs.PrimarySlotName = p.queryString(ctx, db, "SHOW primary_slot_name")
	obs.WALSizePretty = p.queryString(ctx, db,
		"SELECT pg_size_pretty(coalesce(sum((pg_ls_waldir()).size), 0))")
	obs.WALFileCount = int(p.queryInt64(ctx, db, "SELECT count(*) FROM pg_ls_waldir()"))
	obs.ReplicationSlotCount = int(p.queryInt64(ctx, db, "SELECT count(*) FROM pg_replication_slots"))

	return obs
}

func (p *Prober) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.QueryTimeout)
}

func (p *Prober) queryBool(ctx context.Context, db *sql.DB, query string) (bool, error) {
	qctx, cancel := p.queryCtx(ctx)
	defer cancel()
	var v bool
	err := db.QueryRowContext(qctx, query).Scan(&v)
	return v, err
}

func (p *Prober) queryString(ctx context.Context, db *sql.DB, query string) string {
	qctx, cancel := p.queryCtx(ctx)
	defer cancel()
	var v string
	if err := db.QueryRowContext(qctx, query).Scan(&v); err != nil {
		p.Logger.Printf("probe: query %q failed: %v", query, err)
		return ""
	}
	return v
}

func (p *Prober) queryInt64(ctx context.Context, db *sql.DB, query string) int64 {
	qctx, cancel := p.queryCtx(ctx)
	defer cancel()
	var v int64
	if err := db.QueryRowContext(qctx, query).Scan(&v); err != nil {
		p.Logger.Printf("probe: query %q failed: %v", query, err)
		return 0
	}
	return v
}

func (p *Prober) queryNullableInt64(ctx context.Context, db *sql.DB, query string) *int64 {
	qctx, cancel := p.queryCtx(ctx)
	defer cancel()
	var v sql.NullInt64
	if err := db.QueryRowContext(qctx, query).Scan(&v); err != nil {
		p.Logger.Printf("probe: query %q failed: %v", query, err)
		return nil
	}
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
