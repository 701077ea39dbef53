// Package httpapi exposes the verification engine over HTTP with gin.
//
// Routes:
//
//	POST /v1/challenges            issue a challenge
//	POST /v1/challenges/resend     issue a fresh challenge on the latest channel
//	POST /v1/challenges/:id/verify submit an OTP code
//	POST /v1/links/verify          submit an email link token
//	POST /v1/tokens/redeem         spend an action token on its protected action
//	GET  /healthz                  backend health
//
// Errors use the [goVerify.ErrorResponse] body and the status of its code.
// CHANGE_PASSWORD requests need a bearer token; the challenge goes to the
// phone number in the token, never to one taken from the request body.
package httpapi
