package placement

import "time"

// SetNowFunc lets the external tests freeze the clock.
func SetNowFunc(f func() time.Time) (restore func()) {
	orig := nowFunc
	nowFunc = f
	return func() { nowFunc = orig }
}
