package eth

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"ethcode-go/errcode"
	"ethcode-go/types"
)

func waitPhase(t *testing.T, w *Worker, p types.Phase) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for w.Phase() != p {
		select {
		case <-deadline:
			t.Fatalf("phase %v not reached, at %v", p, w.Phase())
		case <-time.After(time.Millisecond):
		}
	}
}

func waitStopped(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func countLines(lines []string, s string) int {
	n := 0
	for _, l := range lines {
		if l == s {
			n++
		}
	}
	return n
}

func readyRig() *rig {
	r := newRig()
	r.dhcp.rounds = [][]types.DHCPStatus{{types.DHCPRunning, types.DHCPAssigned}}
	r.dhcp.leases = []types.Lease{testLease}
	return r
}

func TestWorkerReachesReady(t *testing.T) {
	r := readyRig()
	w := r.worker(DefaultIdentity)
	if w.State() != types.WorkerUninitialized {
		t.Fatalf("state = %v", w.State())
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseReady)
	if got := w.CurrentIdentity().IP; got != testLease.IP {
		t.Fatalf("ip = %v", got)
	}
	if !r.has(types.EvLeaseAssigned) {
		t.Fatal("events not forwarded")
	}
	w.RequestStop()
	waitStopped(t, w)
}

func TestWorkerStartTwice(t *testing.T) {
	r := readyRig()
	w := r.worker(DefaultIdentity)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); !errors.Is(err, errcode.AlreadyRunning) {
		t.Fatalf("want already_running, got %v", err)
	}
	w.RequestStop()
	waitStopped(t, w)
	if err := w.Start(); !errors.Is(err, errcode.Stopped) {
		t.Fatalf("want stopped, got %v", err)
	}
	if err := w.Reinit(); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("reinit after stop: %v", err)
	}
}

func TestWorkerStopReleasesPromptly(t *testing.T) {
	r := newRig()
	r.dhcp.rounds = [][]types.DHCPStatus{{types.DHCPRunning}}
	w := r.worker(DefaultIdentity)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseDHCPNegotiate)

	start := time.Now()
	w.RequestStop()
	waitStopped(t, w)
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("stop took %v", d)
	}
	acquired, released, power := r.hw.snapshot()
	if acquired || released != 1 {
		t.Fatalf("acquired=%v released=%d", acquired, released)
	}
	if !power {
		t.Fatal("power rail should stay on by default")
	}
	if w.State() != types.WorkerStopped {
		t.Fatalf("state = %v", w.State())
	}
}

func TestWorkerPowerOffOnStop(t *testing.T) {
	r := readyRig()
	w := New(Config{
		Hardware:       r.hw,
		Build:          r.build,
		Defaults:       DefaultIdentity,
		Timing:         workerTiming(),
		Sink:           r.sink,
		PowerOffOnStop: true,
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseReady)
	w.RequestStop()
	waitStopped(t, w)
	if _, _, power := r.hw.snapshot(); power {
		t.Fatal("power rail left on")
	}
}

func TestWorkerConcurrentStop(t *testing.T) {
	r := readyRig()
	w := r.worker(DefaultIdentity)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.RequestStop()
		}()
	}
	wg.Wait()
	waitStopped(t, w)
	w.RequestStop()

	reset := r.sink.Snapshot(types.ChanReset)
	if countLines(reset, bannerStart) != 1 || countLines(reset, bannerStop) != 1 {
		t.Fatalf("banners = %q", reset)
	}
	if _, released, _ := r.hw.snapshot(); released != 1 {
		t.Fatalf("released %d times", released)
	}
}

func TestWorkerStopBeforeStart(t *testing.T) {
	r := readyRig()
	w := r.worker(DefaultIdentity)
	w.RequestStop()
	waitStopped(t, w)
	if err := w.Start(); !errors.Is(err, errcode.Stopped) {
		t.Fatalf("want stopped, got %v", err)
	}
	if acquired, released, _ := r.hw.snapshot(); acquired || released != 0 {
		t.Fatal("hardware must not be touched")
	}
	if err := w.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerClaimFailure(t *testing.T) {
	r := readyRig()
	r.hw.acquireErr = errcode.Wrap(errcode.PinInUse, "claim pin", nil)
	w := r.worker(DefaultIdentity)
	err := w.Start()
	if errcode.Of(err) != errcode.PinInUse {
		t.Fatalf("want pin_in_use, got %v", err)
	}
	if w.State() != types.WorkerUninitialized {
		t.Fatalf("state = %v", w.State())
	}
	// the caller may retry once the resource is free
	r.hw.mu.Lock()
	r.hw.acquireErr = nil
	r.hw.mu.Unlock()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.RequestStop()
	waitStopped(t, w)
}

func TestWorkerRenew(t *testing.T) {
	r := readyRig()
	r.dhcp.rounds = append(r.dhcp.rounds, []types.DHCPStatus{types.DHCPLeased})
	r.dhcp.leases = append(r.dhcp.leases, testLease)
	w := r.worker(DefaultIdentity)
	if err := w.Renew(); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("renew before start: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseReady)
	if err := w.Renew(); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for !r.has(types.EvLeaseRenewed) {
		select {
		case <-deadline:
			t.Fatal("renewal not reported")
		case <-time.After(time.Millisecond):
		}
	}
	if r.ctrl.initCount() != 1 {
		t.Fatalf("renew re-initialised the chip: %d", r.ctrl.initCount())
	}
	w.RequestStop()
	waitStopped(t, w)
}

func TestWorkerReinitAfterFailure(t *testing.T) {
	r := readyRig()
	r.ctrl.initFails = -1
	w := r.worker(DefaultIdentity)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseFailed)
	if errcode.Of(w.Err()) != errcode.HardwareInit {
		t.Fatalf("err = %v", w.Err())
	}
	if w.State() != types.WorkerRunning {
		t.Fatal("a failed run keeps the worker alive for Reinit")
	}
	if err := w.Renew(); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("renew after failure: %v", err)
	}

	r.ctrl.mu.Lock()
	r.ctrl.initFails = 0
	r.ctrl.mu.Unlock()
	if err := w.Reinit(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseReady)
	if w.Err() != nil {
		t.Fatalf("stale error %v", w.Err())
	}
	w.RequestStop()
	waitStopped(t, w)
}

func TestWorkerConcurrentReaders(t *testing.T) {
	r := readyRig()
	w := r.worker(DefaultIdentity)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				id := w.CurrentIdentity()
				// an identity is either the defaults or the full lease
				if id.IP != DefaultIdentity.IP && id.IP != testLease.IP {
					t.Errorf("torn identity %+v", id)
					return
				}
				w.SetActiveChannel(types.ChanDHCP)
				_ = w.Sink().Snapshot(types.ChanPersistent)
				runtime.Gosched()
			}
		}()
	}
	waitPhase(t, w, types.PhaseReady)
	close(stop)
	wg.Wait()
	w.RequestStop()
	waitStopped(t, w)
}

func TestWorkerOnEventCancel(t *testing.T) {
	r := readyRig()
	w := r.worker(DefaultIdentity)
	var mu sync.Mutex
	n := 0
	off := w.OnEvent(func(types.Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	off()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseReady)
	w.RequestStop()
	waitStopped(t, w)
	mu.Lock()
	defer mu.Unlock()
	if n != 0 {
		t.Fatalf("removed listener saw %d events", n)
	}
}
