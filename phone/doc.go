// Package phone normalizes user-typed phone numbers to E.164 and masks them
// for display.
//
// The same physical number must always map to one owner key, so every
// number is parsed against a default region ("0812..." in region ID becomes
// "+62812...") before it is used as an owner reference.
package phone
