// Package rate throttles login attempts per client IP.
//
// # Limiters
//
//   - [Redis]: fixed-window counter shared across instances: INCR plus EXPIRE on the
//     first hit. Keys are rl:login:<ip>.
//   - [Local]: in-process token bucket per IP built on golang.org/x/time/rate, for
//     single-instance deployments without Redis.
//
// This is traffic shaping in front of the lockout state machine, not a replacement for
// it: lockout counts wrong secrets per account, these limiters count requests per IP.
//
// # What this package must NOT do
//
//   - Decide account lockout (see internal/lockout).
//   - Be imported outside the authcore module.
package rate
