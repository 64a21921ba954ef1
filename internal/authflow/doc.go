// Package authflow implements the interactive login and silent refresh
// protocols against the identity provider.
//
// Two interchangeable strategies exist: the authorization-code grant
// (interactive browser redirect received by a local callback listener) and
// the device-code grant (out-of-band code entry with endpoint polling). Both
// persist results through the token cache and account store, and both share
// the same explicit state machine:
//
//	Idle -> AwaitingUserAction -> Exchanging -> {Authenticated | Failed | TimedOut}
//
// Authenticated is the observable terminal state of a successful login; the
// next Login call moves the machine out of it. Failed and TimedOut are
// surfaced to the controller as typed errors. The raw OAuth wire exchange is
// delegated to golang.org/x/oauth2.
package authflow
