// Package reconnect re-establishes lost links on a retry schedule.
//
// A Manager owns one link (a subscriber's command channel, or a publisher's
// UDP data channel toward one subscriber) and a connect function that
// (re)creates it. Reporting an unexpected loss with NotifyConnectionLost
// starts a retry loop that calls the connect function after each backoff
// delay until it succeeds, the link is intentionally disconnected, or the
// Manager is closed.
//
// # Retry Schedules
//
// Data channels retry on a constant one second delay with no upper bound on
// attempts:
//
//	ConstantBackoff(time.Second)
//
// Subscriber command channels use exponential backoff with jitter:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// starting at 1s and doubling up to 30s. The delay resets after a
// successful connect.
package reconnect
