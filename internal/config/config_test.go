package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
node:
  host_name: db1

monitor:
  scan_period_sec: 5
  failover_timeout_sec: 20
  downgrade_timeout_sec: 30
  resync_verify_delay_sec: 3

commands:
  replication_slot_name: standby1_slot
  pg_data_path: /var/lib/postgresql/data
  db_status_probe: pg_isready
  db_status_success_marker: "accepting connections"
  start_db: pg_ctl start
  stop_db: pg_ctl stop
  network_status_probe: ping -c1 gateway
  network_status_success_marker: "1 received"
  promote: pg_ctl promote
  delta_resync: pg_rewind --target-pgdata=%pg_data_path% --source-server=%master_connstr%
  full_rebuild: pg_basebackup -D %pg_data_path% -d %master_connstr% -S %slot_name%
  create_data_dirs: mkdir -p /var/lib/postgresql/data
  remove_data_dirs: rm -rf /var/lib/postgresql/data

webserver:
  address: 127.0.0.1
  port: 8008

cluster:
  db1: "host=db1.internal user=repl password=pw"
  db2: "host=db2.internal user=repl password=pw"
  db3: "host=db3.internal user=repl password=pw"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_ParsesAndValidates(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Node.HostName != "db1" {
		t.Errorf("host_name = %q", cfg.Node.HostName)
	}
	if cfg.ScanPeriod().Seconds() != 5 {
		t.Errorf("scan period = %v", cfg.ScanPeriod())
	}
	if cfg.Commands.DeltaResync == "" {
		t.Errorf("expected delta_resync to be populated")
	}
}

func TestLoad_PreservesClusterOrder(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	order := cfg.ClusterOrder()
	want := []string{"db1", "db2", "db3"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestValidate_RejectsMissingHostName(t *testing.T) {
	cfg := &Config{Cluster: map[string]string{"db1": "x"}, Monitor: MonitorConfig{ScanPeriodSec: 1}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing host_name")
	}
}

func TestValidate_RejectsHostNameNotInCluster(t *testing.T) {
	cfg := &Config{
		Node:    NodeConfig{HostName: "ghost"},
		Cluster: map[string]string{"db1": "x"},
		Monitor: MonitorConfig{ScanPeriodSec: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for host_name absent from cluster section")
	}
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	if _, err := load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
