package orchestrator_test

import "time"

const (
	defaultWait = 2 * time.Second
	tick        = 10 * time.Millisecond
)
