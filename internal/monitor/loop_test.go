package monitor

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/dplane/pgsentineld/internal/cluster"
)

func testLogger() *log.Logger { return log.New(os.Stderr, "test: ", 0) }

type fakeEnsurer struct {
	up         bool
	ensureErr  error
	ensureCall int
}

func (f *fakeEnsurer) EnsureUp(_ context.Context) error {
	f.ensureCall++
	return f.ensureErr
}
func (f *fakeEnsurer) IsUp(_ context.Context) bool { return f.up }

type fakeRoleHandler struct {
	called bool
}

func (f *fakeRoleHandler) Handle(_ context.Context, _ *cluster.Snapshot, _ cluster.NodeID) {
	f.called = true
}

type fixedProber struct {
	obs map[string]cluster.NodeObservation
}

func (p *fixedProber) Probe(_ context.Context, connStr string) cluster.NodeObservation {
	return p.obs[connStr]
}

func TestRunTick_DispatchesToPrimaryHandler(t *testing.T) {
	order := []cluster.NodeID{"local"}
	snap := cluster.New(order, map[cluster.NodeID]string{"local": "local"},
		&fixedProber{obs: map[string]cluster.NodeObservation{
			"local": {Connected: true, Role: cluster.RoleMaster},
		}}, testLogger())

	ensurer := &fakeEnsurer{up: true}
	primary := &fakeRoleHandler{}
	replica := &fakeRoleHandler{}
	l := New(snap, "local", ensurer, primary, replica, time.Second, testLogger())

	l.runTick(context.Background())

	if !primary.called {
		t.Fatalf("expected primary handler to be dispatched for a MASTER local role")
	}
	if replica.called {
		t.Fatalf("expected replica handler not to be dispatched")
	}
}

func TestRunTick_DispatchesToReplicaHandler(t *testing.T) {
	order := []cluster.NodeID{"local"}
	snap := cluster.New(order, map[cluster.NodeID]string{"local": "local"},
		&fixedProber{obs: map[string]cluster.NodeObservation{
			"local": {Connected: true, Role: cluster.RoleStandby},
		}}, testLogger())

	ensurer := &fakeEnsurer{up: true}
	primary := &fakeRoleHandler{}
	replica := &fakeRoleHandler{}
	l := New(snap, "local", ensurer, primary, replica, time.Second, testLogger())

	l.runTick(context.Background())

	if !replica.called || primary.called {
		t.Fatalf("expected only the replica handler to be dispatched")
	}
}

func TestRunTick_SkipsDispatchWhenLocalDisconnected(t *testing.T) {
	order := []cluster.NodeID{"local"}
	snap := cluster.New(order, map[cluster.NodeID]string{"local": "local"},
		&fixedProber{obs: map[string]cluster.NodeObservation{
			"local": {Connected: false},
		}}, testLogger())

	ensurer := &fakeEnsurer{up: true}
	primary := &fakeRoleHandler{}
	replica := &fakeRoleHandler{}
	l := New(snap, "local", ensurer, primary, replica, time.Second, testLogger())

	l.runTick(context.Background())

	if primary.called || replica.called {
		t.Fatalf("expected no dispatch when the local node is disconnected")
	}
}

func TestRunTick_SkipsEverythingWhenDBNotUp(t *testing.T) {
	order := []cluster.NodeID{"local"}
	snap := cluster.New(order, map[cluster.NodeID]string{"local": "local"},
		&fixedProber{obs: map[string]cluster.NodeObservation{
			"local": {Connected: true, Role: cluster.RoleMaster},
		}}, testLogger())

	ensurer := &fakeEnsurer{up: false}
	primary := &fakeRoleHandler{}
	replica := &fakeRoleHandler{}
	l := New(snap, "local", ensurer, primary, replica, time.Second, testLogger())

	l.runTick(context.Background())

	if primary.called {
		t.Fatalf("expected no dispatch while the local db reports not up")
	}
}

func TestStop_EndsRun(t *testing.T) {
	order := []cluster.NodeID{"local"}
	snap := cluster.New(order, map[cluster.NodeID]string{"local": "local"},
		&fixedProber{obs: map[string]cluster.NodeObservation{
			"local": {Connected: true, Role: cluster.RoleStandby},
		}}, testLogger())

	ensurer := &fakeEnsurer{up: true}
	l := New(snap, "local", ensurer, &fakeRoleHandler{}, &fakeRoleHandler{}, time.Hour, testLogger())

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	l.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}
