//go:build !tinygo

package taskrunner

import "time"

// realSleeper sleeps briefly between poll attempts, same idea as the
// original simulator's irq_wait() usleep(1) -- a short pause that keeps
// host CPU usage down without meaningfully delaying timer dispatch.
type realSleeper struct{}

func (realSleeper) Sleep() {
	time.Sleep(time.Microsecond)
}

// defaultSleeper returns the regular-Go sleeper.
func defaultSleeper() Sleeper {
	return realSleeper{}
}
