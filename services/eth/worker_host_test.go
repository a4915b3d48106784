//go:build !rp2040 && !rp2350

package eth

import (
	"testing"
	"time"

	"ethcode-go/services/eth/hw"
	"ethcode-go/types"
)

func TestWorkerReleasesShimLines(t *testing.T) {
	plan := types.PinPlan{SPI: "spi0", SCK: 18, SDO: 19, SDI: 16, CS: 17, Reset: 20, Power: 22}
	reg, board := hw.NewHostRegistry(plan, 20*time.Millisecond)
	defer reg.Close()
	shim := hw.New(reg, "eth0", plan)

	r := readyRig()
	w := New(Config{
		Hardware: shim,
		Build:    r.build,
		Defaults: DefaultIdentity,
		Timing:   workerTiming(),
		Sink:     r.sink,
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, w, types.PhaseReady)
	if !board.Pin(22).Get() {
		t.Fatal("power rail not enabled")
	}
	if board.Pin(20).Edges() != 2 {
		t.Fatalf("reset edges = %d", board.Pin(20).Edges())
	}

	w.RequestStop()
	waitStopped(t, w)
	if !board.Pin(17).Get() {
		t.Fatal("cs left asserted")
	}
	for _, n := range []int{plan.CS, plan.Reset} {
		if _, err := reg.ClaimPin("other", n); err != nil {
			t.Fatalf("pin %d not released: %v", n, err)
		}
	}
	if _, err := reg.ClaimSPI("other", "spi0"); err != nil {
		t.Fatalf("bus not released: %v", err)
	}
	if _, err := reg.ClaimPin("other", plan.Power); err == nil {
		t.Fatal("power pin should stay claimed while the rail is kept on")
	}
}
