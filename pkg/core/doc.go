// Package core provides the fundamental types and interfaces for the jobs package.
//
// This package contains:
//   - JobMessage, JobRecord and the JobStatus state machine
//   - Backend, the contract every storage implementation satisfies
//   - JobEvent and EventStream for lifecycle notifications
//   - Infrastructure errors and handler outcome errors
//
// Most users should import the root package github.com/jdziat/tenant-jobs
// instead of this package directly.
package core
