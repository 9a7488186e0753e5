package workload

import "time"

// Clock supplies the time for the workload loop
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// WallClock is the real time source
var WallClock Clock = wallClock{}
