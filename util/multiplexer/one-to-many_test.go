package multiplexer

import (
	"errors"
	"testing"
)

func TestOneToMany(t *testing.T) {
	m := NewOneToMany[int](1)
	a, err := m.MakeReceiver("a")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.MakeReceiver("b")
	if _, err := m.MakeReceiver("a"); !errors.Is(err, ErrReceiverExists) {
		t.Errorf("Duplicate receiver gave %v", err)
	}

	if n, _ := m.Send(1); n != 2 {
		t.Errorf("First message reached %d receivers", n)
	}
	// a and b are full now
	if n, _ := m.Send(2); n != 0 {
		t.Errorf("Message to full receivers reached %d", n)
	}
	if got := <-a; got != 1 {
		t.Errorf("a got %d", got)
	}

	m.CloseReceiver("b")
	if got, ok := <-b; !ok || got != 1 {
		t.Errorf("b lost its buffered message: %d %v", got, ok)
	}
	if _, ok := <-b; ok {
		t.Errorf("b still open after CloseReceiver")
	}
	if m.Receivers() != 1 {
		t.Errorf("%d receivers left", m.Receivers())
	}

	m.Close()
	if _, ok := <-a; ok {
		t.Errorf("a still open after Close")
	}
	if _, err := m.Send(3); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close gave %v", err)
	}
}
