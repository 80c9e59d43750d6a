// Package action implements LocalActions: the ordered, externally-executed
// procedures that change local database state. Every action here only
// ever touches the node the controller runs on — nothing here connects to
// a peer to mutate it.
package action

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dplane/pgsentineld/internal/cmdutil"
	"github.com/dplane/pgsentineld/internal/config"
)

// LocalActions executes the operator-configured commands against the
// local node, in the ordering base spec §4.5 requires.
type LocalActions struct {
	cmds   config.CommandsConfig
	dsn    string // connection string for the LOCAL node, autocommit actions
	logger *log.Logger

	resyncVerifyDelay time.Duration
}

// New builds a LocalActions bound to the local node's own connection
// string (never a peer's) and the commands configured for this instance.
func New(cmds config.CommandsConfig, localDSN string, resyncVerifyDelay time.Duration, logger *log.Logger) *LocalActions {
	return &LocalActions{cmds: cmds, dsn: localDSN, resyncVerifyDelay: resyncVerifyDelay, logger: logger}
}

// EnsureUp runs the status probe; if it does not report the success
// marker, it runs the start command. It never does more than that in one
// call — the caller (MonitorLoop) checks IsUp right after it and skips the
// rest of the tick if the database is still not up.
func (a *LocalActions) EnsureUp(ctx context.Context) error {
	out, err := cmdutil.RunFast(ctx, a.cmds.DBStatusProbe)
	if err == nil && strings.Contains(string(out), a.cmds.DBStatusSuccessMarker) {
		return nil
	}
	a.logger.Printf("local db not up (probe output=%q err=%v), starting", strings.TrimSpace(string(out)), err)
	if _, err := cmdutil.RunMedium(ctx, a.cmds.StartDB); err != nil {
		return fmt.Errorf("action: start db failed: %w", err)
	}
	return nil
}

// IsUp reports whether the status probe currently shows the success
// marker, without attempting to start anything.
func (a *LocalActions) IsUp(ctx context.Context) bool {
	out, err := cmdutil.RunFast(ctx, a.cmds.DBStatusProbe)
	return err == nil && strings.Contains(string(out), a.cmds.DBStatusSuccessMarker)
}

// NetworkIsLive runs the configured network-liveness probe and reports
// whether its output contains the configured success marker. Used by
// ReplicaHandler's local network gate before any promotion reasoning.
func (a *LocalActions) NetworkIsLive(ctx context.Context) bool {
	out, err := cmdutil.RunFast(ctx, a.cmds.NetworkStatusProbe)
	return err == nil && strings.Contains(string(out), a.cmds.NetworkStatusSuccessMarker)
}

// singleQuoteLiteral rejects a value that cannot be safely embedded as a
// single-quoted SQL literal. The only escaping ALTER SYSTEM SET ... TO
// '...' supports is doubling an embedded quote; rather than rewrite the
// operator's value, any single quote in it (doubled or not) is treated as
// a hard error so a malformed setting never reaches the database
// half-quoted.
func singleQuoteLiteral(value string) (string, error) {
	if strings.Contains(value, "'") {
		return "", fmt.Errorf("action: value %q contains an unescaped single quote", value)
	}
	return "'" + value + "'", nil
}

// AlterAndReload opens an autocommit connection to the local node, issues
// ALTER SYSTEM SET <name> TO '<value>', then SELECT pg_reload_conf().
func (a *LocalActions) AlterAndReload(ctx context.Context, name, value string) error {
	literal, err := singleQuoteLiteral(value)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", a.dsn)
	if err != nil {
		return fmt.Errorf("action: open local connection: %w", err)
	}
	defer db.Close()

	stmt := fmt.Sprintf("ALTER SYSTEM SET %s TO %s", name, literal)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("action: %s: %w", stmt, err)
	}
	if _, err := db.ExecContext(ctx, "SELECT pg_reload_conf()"); err != nil {
		return fmt.Errorf("action: pg_reload_conf: %w", err)
	}
	return nil
}

// Promote runs the promote command, then CHECKPOINT, clears
// synchronous_standby_names, creates the configured physical replication
// slot (non-fatal if it already exists), then reloads configuration.
func (a *LocalActions) Promote(ctx context.Context) error {
	if _, err := cmdutil.RunMedium(ctx, a.cmds.Promote); err != nil {
		return fmt.Errorf("action: promote command failed: %w", err)
	}

	db, err := sql.Open("pgx", a.dsn)
	if err != nil {
		return fmt.Errorf("action: open local connection: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		a.logger.Printf("action: checkpoint after promote failed: %v", err)
	}

	if err := a.AlterAndReload(ctx, "synchronous_standby_names", ""); err != nil {
		a.logger.Printf("action: clearing synchronous_standby_names after promote failed: %v", err)
	}

	if a.cmds.ReplicationSlotName != "" {
		_, err := db.ExecContext(ctx, "SELECT pg_create_physical_replication_slot($1)", a.cmds.ReplicationSlotName)
		if err != nil {
			a.logger.Printf("action: create replication slot %q failed (continuing): %v", a.cmds.ReplicationSlotName, err)
		}
	}

	if _, err := db.ExecContext(ctx, "SELECT pg_reload_conf()"); err != nil {
		a.logger.Printf("action: reload after promote failed: %v", err)
	}
	return nil
}

// DowngradeByResync converts the local primary into a replica of
// masterConnStr, optimistically via delta-resync, falling back to a full
// rebuild if the delta path does not come up streaming.
func (a *LocalActions) DowngradeByResync(ctx context.Context, masterConnStr string) error {
	if _, err := cmdutil.RunMedium(ctx, a.cmds.StopDB); err != nil {
		return fmt.Errorf("action: stop db before resync failed: %w", err)
	}

	// The delta-resync command's exit status is not itself a decision
	// point: start+verify always runs next, and the WAL receiver check
	// below is what decides streaming-vs-rebuild. A non-zero exit here
	// usually still leaves pg_data in a startable state (e.g. pg_rewind
	// exits non-zero on a no-op "already in sync" run), so logging and
	// continuing matches the original monitor's execute_cmd, which never
	// inspects this command's exit code at all.
	deltaCmd := a.substitute(a.cmds.DeltaResync, masterConnStr)
	if out, err := cmdutil.RunSlow(ctx, deltaCmd); err != nil {
		a.logger.Printf("action: delta-resync command exited non-zero, continuing to start+verify: %v (output=%q)", err, string(out))
	}

	if _, err := cmdutil.RunMedium(ctx, a.cmds.StartDB); err != nil {
		return fmt.Errorf("action: start db after resync failed: %w", err)
	}

	time.Sleep(a.resyncVerifyDelay)

	status, err := a.walReceiverStatus(ctx)
	if err != nil {
		a.logger.Printf("action: could not read WAL receiver status after resync: %v", err)
		return a.fullRebuild(ctx, masterConnStr)
	}
	if status == "streaming" {
		return nil
	}
	a.logger.Printf("action: WAL receiver status %q after resync is not streaming, falling back to full rebuild", status)
	return a.fullRebuild(ctx, masterConnStr)
}

func (a *LocalActions) fullRebuild(ctx context.Context, masterConnStr string) error {
	if _, err := cmdutil.RunMedium(ctx, a.cmds.StopDB); err != nil {
		a.logger.Printf("action: stop db before rebuild failed (continuing): %v", err)
	}
	if err := os.RemoveAll(a.cmds.PGDataPath); err != nil {
		return fmt.Errorf("action: remove data directory %s: %w", a.cmds.PGDataPath, err)
	}
	if _, err := cmdutil.RunFast(ctx, a.cmds.CreateDataDirs); err != nil {
		return fmt.Errorf("action: recreate data directory failed: %w", err)
	}
	rebuildCmd := a.substitute(a.cmds.FullRebuild, masterConnStr)
	if _, err := cmdutil.RunSlow(ctx, rebuildCmd); err != nil {
		return fmt.Errorf("action: full-rebuild command failed: %w", err)
	}
	if _, err := cmdutil.RunMedium(ctx, a.cmds.StartDB); err != nil {
		return fmt.Errorf("action: start db after rebuild failed: %w", err)
	}
	return nil
}

func (a *LocalActions) substitute(cmd, masterConnStr string) string {
	cmd = strings.ReplaceAll(cmd, "%pg_data_path%", a.cmds.PGDataPath)
	cmd = strings.ReplaceAll(cmd, "%master_connstr%", masterConnStr)
	cmd = strings.ReplaceAll(cmd, "%slot_name%", a.cmds.ReplicationSlotName)
	return cmd
}

func (a *LocalActions) walReceiverStatus(ctx context.Context) (string, error) {
	db, err := sql.Open("pgx", a.dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var status string
	err = db.QueryRowContext(ctx, "SELECT status FROM pg_stat_wal_receiver").Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}
