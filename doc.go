// Package authcore is the identity and session engine behind AfriConnect
// Exchange: account registration over email or phone, single-use verification
// and password-reset tokens, opaque device-bound sessions with CSRF
// companions, per-identifier rate limiting, and retried notification
// delivery.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (SignUpResult, CurrentSession, APIKeyResult, etc.).
// Subsystem mechanics — token issuance, session bookkeeping, attempt
// counting, dispatch retries — live in the sub-packages (token, session,
// rate, notify) and their Redis/Postgres stores, and are wired in by Build.
//
// # What this package must NOT do
//
//   - Expose Redis or Postgres clients, store internals, or secret material
//     in its public API. Callers see plaintext tokens exactly once, at
//     issuance.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Distinguish unknown identifiers from bad credentials in anything it
//     returns. Sign-in failures are one error; reset and resend requests for
//     identifiers we do not hold succeed silently.
package authcore
