// Package security provides validation, sanitization, and limits for the jobs package.
//
// This package includes:
//   - Input validation for job type names, queue names, tenants and idempotency keys
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on retries and concurrency
//   - Security-related constants defining maximum sizes and counts
//
// Most users should import the root package github.com/jdziat/tenant-jobs
// which re-exports these functions.
package security
