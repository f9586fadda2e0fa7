package session

import "time"

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// Clock schedules the creation timeout.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock uses time.AfterFunc.
var SystemClock Clock = systemClock{}
