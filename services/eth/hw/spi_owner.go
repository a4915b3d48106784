package hw

import (
	"time"

	"ethcode-go/errcode"

	"tinygo.org/x/drivers"
)

// request posted to the per-bus worker. w and r belong to the request, not
// the caller, so a transfer finishing after its deadline touches no caller
// memory.
type spiReq struct {
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// spiOwner hosts the single goroutine allowed to touch an SPI peripheral.
type spiOwner struct {
	id   string
	hw   drivers.SPI
	reqs chan spiReq
	quit chan struct{}
}

func newSPIOwner(id string, hw drivers.SPI) *spiOwner {
	o := &spiOwner{
		id:   id,
		hw:   hw,
		reqs: make(chan spiReq, 4),
		quit: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *spiOwner) loop() {
	for {
		select {
		case req := <-o.reqs:
			err := o.hw.Tx(req.w, req.r)
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

func (o *spiOwner) stop() { close(o.quit) }

// timedSPI adapts the owner to drivers.SPI with a per-call deadline that
// covers both enqueue and completion.
type timedSPI struct {
	o       *spiOwner
	timeout time.Duration
}

var _ drivers.SPI = (*timedSPI)(nil)

func (d *timedSPI) Tx(w, r []byte) error {
	req := spiReq{done: make(chan error, 1)}
	if len(w) > 0 {
		req.w = append([]byte(nil), w...)
	}
	if len(r) > 0 {
		req.r = make([]byte, len(r))
	}

	t := time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case d.o.reqs <- req:
	case <-t.C:
		return errcode.Timeout
	}
	select {
	case err := <-req.done:
		copy(r, req.r)
		return err
	case <-t.C:
		return errcode.Timeout
	}
}

func (d *timedSPI) Transfer(b byte) (byte, error) {
	var in [1]byte
	err := d.Tx([]byte{b}, in[:])
	return in[0], err
}
