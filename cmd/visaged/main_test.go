package main

import "testing"

type countingEmitter struct {
	activated, deactivated int
}

func (c *countingEmitter) Activate()   { c.activated++ }
func (c *countingEmitter) Deactivate() { c.deactivated++ }

// disabledEmitter only forwards to the wrapped controller when available
// is true, matching config.EmitterEnabled / Controller.HasEmitter()
// gating (spec.md §4.5 "Lifetime": a camera with no usable emitter must
// behave exactly like one that was never asked to illuminate).
func TestDisabledEmitterSkipsCallsWhenUnavailable(t *testing.T) {
	inner := &countingEmitter{}
	d := disabledEmitter{ctrl: inner, available: false}
	d.Activate()
	d.Deactivate()
	if inner.activated != 0 || inner.deactivated != 0 {
		t.Fatalf("expected no calls forwarded, got activated=%d deactivated=%d", inner.activated, inner.deactivated)
	}
}

func TestDisabledEmitterForwardsWhenAvailable(t *testing.T) {
	inner := &countingEmitter{}
	d := disabledEmitter{ctrl: inner, available: true}
	d.Activate()
	d.Deactivate()
	if inner.activated != 1 || inner.deactivated != 1 {
		t.Fatalf("expected one call each forwarded, got activated=%d deactivated=%d", inner.activated, inner.deactivated)
	}
}
