package graph

import "sync/atomic"

// MaxHardwareContexts caps the number of contexts simultaneously talking to
// hardware.
const MaxHardwareContexts = 4

// defaultAdmission is the process-wide admission service shared by contexts
// created without WithAdmission.
var defaultAdmission = NewAdmission(MaxHardwareContexts)

// Admission is the admission-control service limiting concurrently live
// hardware contexts. The zero value is not usable; construct with
// NewAdmission.
type Admission struct {
	cap  int
	live atomic.Int32
}

// NewAdmission returns an admission service with the provided cap.
func NewAdmission(cap int) *Admission {
	return &Admission{cap: cap}
}

// Full reports whether the cap is reached.
func (a *Admission) Full() bool {
	return int(a.live.Load()) >= a.cap
}

// Live returns the number of currently admitted contexts.
func (a *Admission) Live() int {
	return int(a.live.Load())
}

// admit counts a context in. Called only after the destination confirmed it
// started rendering.
func (a *Admission) admit() {
	a.live.Add(1)
}

// release counts a context out. Releasing below zero is a fatal programming
// error: it means an uninitialize without a matching initialize.
func (a *Admission) release() {
	if a.live.Add(-1) < 0 {
		panic("graph: admission release without admit")
	}
}
