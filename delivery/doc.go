// Package delivery provides goVerify.DeliveryGateway implementations.
//
//   - [WhatsApp] posts OTP codes as template messages to a WhatsApp
//     Business Cloud style HTTP API.
//   - [SMTP] mails link tokens as a reset link.
//   - [Sandbox] logs messages instead of sending them and reports itself as
//     a sandbox, which is the only way a development fixed OTP is honoured.
//   - [Router] dispatches on the message channel.
//
// Gateways return only after the transport accepted the message. They never
// log the secret outside the sandbox.
package delivery
