package dsp

import "testing"

func TestCombResetZerosState(t *testing.T) {
	c := NewComb(4, 0.99)
	for i := 0; i < 20; i++ {
		c.Process(1.0)
	}
	c.Reset()
	if y := c.Process(0); y != 0 {
		t.Fatalf("expected 0 immediately after reset, got %v", y)
	}
}

func TestComplexCombProcessesChannelsIndependently(t *testing.T) {
	c := NewComplexComb(4, 0.99)
	i, q := c.Process(1.0, -1.0)
	if i == q {
		t.Fatalf("expected independent I/Q outputs for asymmetric input, got i=%v q=%v", i, q)
	}
}

func TestCombWithCallerBufferHonorsLength(t *testing.T) {
	buf := make([]float64, 50)
	c := NewCombWithBuffer(buf, 0.99)
	// Feeding D zeros then a unit impulse should echo it back D samples later.
	for i := 0; i < 50; i++ {
		c.Process(0)
	}
	y := c.Process(1.0)
	if y <= 0 {
		t.Fatalf("expected positive output from comb on impulse, got %v", y)
	}
	prev := y
	for i := 0; i < len(buf)-1; i++ {
		prev = c.Process(0)
	}
	if echo := c.Process(0); echo <= prev {
		t.Fatalf("expected the impulse to echo back %d samples later, got %v after %v", len(buf), echo, prev)
	}
}
