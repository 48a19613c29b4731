package util

import "testing"

func TestUnpack(t *testing.T) {
	var a, b, c string
	c = "untouched"
	Unpack([]string{"restart", "clock"}, &a, &b, &c)
	if a != "restart" || b != "clock" || c != "untouched" {
		t.Errorf("Got %q %q %q", a, b, c)
	}
	Unpack([]string{"x", "y", "z", "extra"}, &a, &b)
	if a != "x" || b != "y" {
		t.Errorf("Got %q %q", a, b)
	}
}
