package task

import "time"

// Clock supplies the current time to the engine. Injecting it lets tests
// pin timestamps and make delayed tasks immediately ready without real
// sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall-clock implementation used outside tests.
func SystemClock() Clock { return systemClock{} }
