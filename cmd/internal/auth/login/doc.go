// Package login composes the credential store, OTP challenges, device trust
// and session issuance into the end-to-end register, login and recovery flows.
//
// Every operation returns either a result or a *Error tagged with a stable
// Kind; store failures are logged here and never reach the caller verbatim.
// Transport concerns (cookies, headers, status codes) live in the api package.
package login
