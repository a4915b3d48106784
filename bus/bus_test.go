package bus

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) *Message {
	t.Helper()
	select {
	case m := <-s.Channel():
		return m
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("no message on %v", s.Topic())
		return nil
	}
}

func quiet(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case m := <-s.Channel():
		t.Fatalf("unexpected %v", m.Topic)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRetainedReplayThroughWildcards(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("eth")
	c.Publish(c.NewMessage(T("eth", "state"), "ready", true))
	c.Publish(c.NewMessage(T("eth", "identity"), "10.0.0.5", true))
	c.Publish(c.NewMessage(T("eth", "log", "dhcp"), "transient", false))

	one := c.Subscribe(T("eth", "+"))
	rest := c.Subscribe(T("eth", "#"))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[recv(t, one).Payload.(string)] = true
	}
	if !got["ready"] || !got["10.0.0.5"] {
		t.Fatalf("single-level replay = %v", got)
	}
	quiet(t, one)

	recv(t, rest)
	recv(t, rest)
	quiet(t, rest)
}

func TestRetainedClearAndOverwrite(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("x")
	c.Publish(c.NewMessage(T("eth", "state"), "a", true))
	c.Publish(c.NewMessage(T("eth", "state"), "b", true))
	s := c.Subscribe(T("eth", "state"))
	if m := recv(t, s); m.Payload != "b" || !m.Retained {
		t.Fatalf("got %+v", m)
	}
	s.Unsubscribe()

	c.Publish(c.NewMessage(T("eth", "state"), nil, true))
	quiet(t, c.Subscribe(T("eth", "state")))
}

func TestNoMatch(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("x")
	s := c.Subscribe(T("eth", "log", "+"))
	c.Publish(c.NewMessage(T("eth", "log"), "short", false))
	c.Publish(c.NewMessage(T("eth", "log", "dhcp", "extra"), "long", false))
	c.Publish(c.NewMessage(T("eth", "event", "ready"), "other", false))
	quiet(t, s)
}

func TestRequestWait(t *testing.T) {
	b := NewBus(4)
	svc := b.NewConnection("svc")
	cli := b.NewConnection("cli")

	ctrl := svc.Subscribe(T("eth", "control", "+"))
	go func() {
		for m := range ctrl.Channel() {
			svc.Reply(m, m.Topic[2], false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rep, err := cli.RequestWait(ctx, cli.NewMessage(T("eth", "control", "renew"), nil, false))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Payload != "renew" {
		t.Fatalf("reply = %v", rep.Payload)
	}
	if rep.Topic[0] != "_reply" || rep.Topic[1] != "cli" {
		t.Fatalf("reply topic = %v", rep.Topic)
	}
}

func TestRequestWaitTimeout(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("cli")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.RequestWait(ctx, c.NewMessage(T("eth", "control", "start"), nil, false)); err != context.DeadlineExceeded {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestReplyWithoutReplyToIsNoop(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("x")
	all := c.Subscribe(T("#"))
	c.Reply(c.NewMessage(T("eth", "control", "stop"), nil, false), "ok", false)
	c.Reply(nil, "ok", false)
	quiet(t, all)
}

func TestQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("x")
	s := c.Subscribe(T("eth", "log", "+"))
	for _, p := range []string{"1", "2", "3"} {
		c.Publish(c.NewMessage(T("eth", "log", "init"), p, false))
	}
	if a, z := recv(t, s).Payload, recv(t, s).Payload; a != "2" || z != "3" {
		t.Fatalf("kept %v %v", a, z)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("x")
	s := c.Subscribe(T("eth", "event", "+"))
	c.Unsubscribe(s)
	c.Unsubscribe(s)
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel open after unsubscribe")
	}
}

func TestDisconnectClosesAll(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("x")
	s1 := c.Subscribe(T("eth", "state"))
	s2 := c.Subscribe(T("config", "eth"))
	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatal("channel open after disconnect")
		}
	}
}

func TestTokenValidation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("non-comparable token accepted")
		}
	}()
	_ = T("eth", []byte("x"))
}

func TestAppendCopies(t *testing.T) {
	base := T("eth", "log")
	a := base.Append("dhcp")
	b := base.Append("ping")
	if a[2] != "dhcp" || b[2] != "ping" || len(base) != 2 {
		t.Fatalf("a=%v b=%v base=%v", a, b, base)
	}
}
