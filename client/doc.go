// Package client drives one verification attempt from the user's side: method
// choice, challenge request, code or link entry with a live resend cooldown,
// and the redirect after success.
//
// A [Machine] talks to the server through a [Backend]; [HTTPBackend] speaks
// the JSON interface served by package httpapi. [CodeInput] models the
// per-digit code entry cells.
package client
