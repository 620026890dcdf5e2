package core

import "time"

// Clock measures frame time on the monotonic clock.
type Clock struct {
	start   time.Time
	elapsed time.Duration
	// Elapsed value at the previous Tick.
	last time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Updates the provided clock. Should be called just before checking elapsed time.
// Has no effect on non-started clocks.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = time.Since(c.start)
	}
}

// Starts the provided clock. Resets elapsed time.
func (c *Clock) Start() {
	c.start = time.Now()
	c.elapsed = 0
	c.last = 0
}

// Stops the provided clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.start = time.Time{}
}

// Elapsed returns the seconds between Start and the last Update.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}

// Tick updates the clock and returns the seconds since the previous Tick.
func (c *Clock) Tick() float64 {
	c.Update()
	delta := c.elapsed - c.last
	c.last = c.elapsed
	return delta.Seconds()
}
