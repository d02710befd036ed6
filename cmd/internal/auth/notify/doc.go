// Package notify delivers OTP codes to users.
//
// A Sender is constructed once at startup and injected into the login
// orchestrator. Each sender reports whether it is actually configured, so the
// orchestrator can tell a missing channel apart from a failing one.
//
// Senders compose: Router picks a sender per channel, Fallback retries on a
// secondary sender, and Timeout bounds each attempt. KafkaSender hands the
// message to the fintrack-notifier process, whose Consumer performs the real
// delivery.
package notify
