// Package accounts is the account store behind the verifyd demo server. It
// resolves owner references to accounts and implements the protected
// mutations run on redemption: setting a password and marking a dealer phone
// verified.
package accounts
