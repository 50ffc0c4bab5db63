// Package events defines the queue lifecycle event contract. The engine
// emits an event on every task state transition; logging, notification,
// and analytics sinks observe those events without the engine knowing
// about any of them.
package events
