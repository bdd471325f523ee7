package sched

import "errors"

var (
	ErrEmptyName    = errors.New("scheduler name is empty")
	ErrNilSchedule  = errors.New("schedule is nil")
	ErrNoProcessor  = errors.New("schedule has no processor factory")
	ErrNegativeWait = errors.New("schedule delay must be >= 0")
	ErrNegativeCap  = errors.New("schedule max iterations must be >= 0")
)
