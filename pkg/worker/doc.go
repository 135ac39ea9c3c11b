// Package worker provides the Worker type for job processing.
//
// A Worker runs a fixed number of goroutines that each poll the backend,
// execute the leased job's handler and acknowledge the outcome:
//   - success completes the job with the handler's result reference
//   - core.Permanent failures fail the job immediately
//   - any other error schedules a retry while retries remain
//
// Acknowledgments that lose a race with the ledger (expired lease, canceled
// or already settled job) are logged and dropped. While a handler runs the
// worker renews its lease when the backend supports it.
package worker
