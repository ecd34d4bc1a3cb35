// Package coordinator triggers sync runs on a per entity interval.
//
// Every scheduled entity type gets its own loop. A loop triggers a run as soon
// as it starts and then once per interval, shifted by up to ±10% so that
// entity types sharing an interval do not hit the upstream together.
//
// A trigger that finds a run already in progress is skipped; the run in
// progress is left alone and the next tick tries again. All loops stop when
// the context passed to Start is cancelled or Stop is called.
package coordinator
