package logfs

import (
	"strings"
	"testing"

	"ethcode-go/services/eth"
	"ethcode-go/types"
)

type fakeSource struct {
	sink *eth.Sink
	id   types.NetworkIdentity
	st   types.EthState
}

func (f *fakeSource) Sink() *eth.Sink                        { return f.sink }
func (f *fakeSource) CurrentIdentity() types.NetworkIdentity { return f.id }
func (f *fakeSource) Status() types.EthState                 { return f.st }

func read(t *testing.T, ns *Namespace, path string) string {
	t.Helper()
	e, err := ns.Get(path)
	if err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	b, err := e.Read()
	if err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	return string(b)
}

func TestTreeReflectsSource(t *testing.T) {
	src := &fakeSource{
		sink: eth.NewSink(eth.SinkOptions{}),
		id:   eth.DefaultIdentity,
		st:   types.EthState{Worker: types.WorkerRunning, Phase: types.PhaseLinkWait, Error: "link_timeout"},
	}
	ns, err := New(src, "eth")
	if err != nil {
		t.Fatal(err)
	}

	src.sink.Emit(types.ChanDHCP, ">> DHCP Failed")
	src.sink.Emit(types.ChanInit, "link up")

	if got := read(t, ns, "/log/dhcp"); got != ">> DHCP Failed\n" {
		t.Fatalf("dhcp = %q", got)
	}
	if got := read(t, ns, "/log/persistent"); got != ">> DHCP Failed\nlink up\n" {
		t.Fatalf("persistent = %q", got)
	}
	if got := read(t, ns, "/identity"); !strings.Contains(got, "IP address : 192.168.1.137") {
		t.Fatalf("identity = %q", got)
	}
	st := read(t, ns, "/state")
	if !strings.Contains(st, "phase link_wait") || !strings.Contains(st, "error link_timeout") {
		t.Fatalf("state = %q", st)
	}

	src.sink.SetActive(types.ChanProbe)
	if got := read(t, ns, "/active"); got != "ping\n" {
		t.Fatalf("active = %q", got)
	}
}

func TestGet(t *testing.T) {
	ns, err := New(&fakeSource{sink: eth.NewSink(eth.SinkOptions{})}, "eth")
	if err != nil {
		t.Fatal(err)
	}
	if e, err := ns.Get("/log"); err != nil || !e.IsDir() {
		t.Fatalf("/log: %v", err)
	}
	for _, ch := range []string{"init", "dhcp", "static", "ping", "reset", "persistent"} {
		if _, err := ns.Get("/log/" + ch); err != nil {
			t.Fatalf("/log/%s: %v", ch, err)
		}
	}
	if _, err := ns.Get("log"); err != errNoAbs {
		t.Fatalf("relative path: %v", err)
	}
	if _, err := ns.Get("/nope"); err != errNoFile {
		t.Fatalf("missing: %v", err)
	}
	if _, err := ns.Get("/state/x"); err != errNoDir {
		t.Fatalf("file as dir: %v", err)
	}
	if _, err := ns.AddFile(ns.Root(), "x", FuncFile(func() ([]byte, error) { return nil, nil })); err != nil {
		t.Fatal(err)
	}
}

func TestWalkMatchesGet(t *testing.T) {
	ns, err := New(&fakeSource{sink: eth.NewSink(eth.SinkOptions{})}, "eth")
	if err != nil {
		t.Fatal(err)
	}
	root := ns.Root()
	q := ns.Walk(&root.ref.Qid, "log")
	if q == nil {
		t.Fatal("walk /log failed")
	}
	q = ns.Walk(q, "dhcp")
	e, _ := ns.Get("/log/dhcp")
	if q == nil || q.Path != e.ref.Path {
		t.Fatal("walk /log/dhcp mismatch")
	}
	if ns.Walk(q, "deeper") != nil {
		t.Fatal("walk below a file")
	}
}
