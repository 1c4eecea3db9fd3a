// Package execution decides how a freshly created task runs: detached through
// the work queue for async callers, or inline with a bounded wait for sync
// callers. Worker drains the queue and hands task ids back to the Controller.
package execution
