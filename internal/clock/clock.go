/**
 * @description
 * This package provides the injectable time source used by the engine. All
 * date math is relative to a Clock value so that services can be tested
 * deterministically with a frozen instant instead of the wall clock.
 */

package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns a Clock backed by the wall clock, in UTC.
func System() Clock { return systemClock{} }

// Fixed returns a Clock frozen at the given instant. Intended for tests.
func Fixed(t time.Time) Clock { return fixedClock{t} }

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }
