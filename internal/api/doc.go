// Package api provides the HTTP control surface for the queue: task
// submission, cancellation, status queries, and result export.
package api
