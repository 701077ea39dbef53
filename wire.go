package goVerify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is the wire form of an engine error.
type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeDeliveryFailed   Code = "DELIVERY_FAILED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeExpired          Code = "EXPIRED"
	CodeAlreadyFinalized Code = "ALREADY_FINALIZED"
	CodeInvalidCode      Code = "INVALID_CODE"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeAlreadyConsumed  Code = "ALREADY_CONSUMED"
	CodePurposeMismatch  Code = "PURPOSE_MISMATCH"
	CodeStaleState       Code = "STALE_STATE"
	CodeActionFailed     Code = "ACTION_FAILED"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)

// ErrorCode maps any error returned by the engine to its wire code.
func ErrorCode(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPurposeDisabled),
		errors.Is(err, ErrChannelNotAllowed):
		return CodeInvalidInput
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrDeliveryFailed):
		return CodeDeliveryFailed
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSubjectNotFound):
		return CodeNotFound
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrAlreadyFinalized):
		return CodeAlreadyFinalized
	case errors.Is(err, ErrInvalidCode):
		return CodeInvalidCode
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrAlreadyConsumed):
		return CodeAlreadyConsumed
	case errors.Is(err, ErrPurposeMismatch):
		return CodePurposeMismatch
	case errors.Is(err, ErrStaleState):
		return CodeStaleState
	case errors.Is(err, ErrActionFailed):
		return CodeActionFailed
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrEngineNotReady):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// HTTPStatus is the status code an HTTP transport should answer with.
func (c Code) HTTPStatus() int {
	switch c {
	case "":
		return http.StatusOK
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeDeliveryFailed:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExpired, CodeTokenExpired:
		return http.StatusGone
	case CodeAlreadyFinalized, CodeAlreadyConsumed, CodeStaleState:
		return http.StatusConflict
	case CodeInvalidCode:
		return http.StatusUnprocessableEntity
	case CodePurposeMismatch:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Terminal reports whether the flow has to restart from issuance.
func (c Code) Terminal() bool {
	switch c {
	case CodeExpired, CodeAlreadyFinalized, CodeTokenExpired, CodeAlreadyConsumed,
		CodeStaleState, CodeActionFailed, CodePurposeMismatch:
		return true
	default:
		return false
	}
}

// Describe returns a sentence a user can act on, naming the next step.
func Describe(err error) string {
	code := ErrorCode(err)
	switch code {
	case "":
		return ""
	case CodeRateLimited:
		if wait, ok := RetryAfter(err); ok {
			return fmt.Sprintf("Please wait %d seconds before requesting a new code.", max(ceilSeconds(wait), 1))
		}
		return "Too many requests. Please wait a moment and try again."
	case CodeInvalidCode:
		if left, ok := AttemptsRemaining(err); ok {
			if left == 0 {
				return "The code is incorrect and no attempts are left. Request a new code."
			}
			return fmt.Sprintf("The code is incorrect. %d attempts remaining.", left)
		}
		return "The code is incorrect."
	case CodeInvalidInput:
		return "The information entered is not valid. Check it and try again."
	case CodeDeliveryFailed:
		return "We could not send the code. You can try again right away."
	case CodeNotFound:
		return "This verification request does not exist. Start again."
	case CodeExpired:
		return "The code has expired. Request a new code."
	case CodeAlreadyFinalized:
		return "This code can no longer be used. Request a new code."
	case CodeTokenExpired:
		return "Your verification has expired. Verify again to continue."
	case CodeAlreadyConsumed:
		return "This verification was already used. Verify again to continue."
	case CodePurposeMismatch:
		return "This verification cannot be used for this action. Start again."
	case CodeStaleState:
		return "The request changed while we were processing it. Start again."
	case CodeActionFailed:
		return "The change could not be saved. Verify again and retry."
	default:
		return "Something went wrong. Please try again later."
	}
}

// ErrorResponse is the JSON error body shared by the HTTP transport and the
// HTTP client backend.
type ErrorResponse struct {
	Code              Code   `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
	ChallengeID       string `json:"challengeId,omitempty"`
	MaskedOwnerRef    string `json:"maskedOwnerRef,omitempty"`
}

// NewErrorResponse builds the wire body for err.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Code:    ErrorCode(err),
		Message: Describe(err),
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		resp.RetryAfterSeconds = rl.RetryAfterSeconds()
		resp.ChallengeID = rl.ChallengeID
		resp.MaskedOwnerRef = rl.MaskedOwnerRef
	}
	if left, ok := AttemptsRemaining(err); ok {
		resp.AttemptsRemaining = &left
	}
	return resp
}

// Err converts a wire body back into an error that matches the engine
// sentinels under errors.Is.
func (r ErrorResponse) Err() error {
	var base error
	switch r.Code {
	case CodeInvalidInput:
		base = ErrInvalidInput
	case CodeRateLimited:
		return &RateLimitError{
			RetryAfter:     secondsDuration(r.RetryAfterSeconds),
			ChallengeID:    r.ChallengeID,
			MaskedOwnerRef: r.MaskedOwnerRef,
		}
	case CodeInvalidCode:
		left := 0
		if r.AttemptsRemaining != nil {
			left = *r.AttemptsRemaining
		}
		return &InvalidCodeError{AttemptsRemaining: left}
	case CodeDeliveryFailed:
		base = ErrDeliveryFailed
	case CodeNotFound:
		base = ErrNotFound
	case CodeExpired:
		base = ErrExpired
	case CodeAlreadyFinalized:
		base = ErrAlreadyFinalized
	case CodeTokenExpired:
		base = ErrTokenExpired
	case CodeAlreadyConsumed:
		base = ErrAlreadyConsumed
	case CodePurposeMismatch:
		base = ErrPurposeMismatch
	case CodeStaleState:
		base = ErrStaleState
	case CodeActionFailed:
		base = ErrActionFailed
	case CodeUnavailable:
		base = ErrUnavailable
	default:
		return fmt.Errorf("%s: %s", r.Code, r.Message)
	}
	if r.Message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, r.Message)
}

// Request and response bodies of the HTTP interface.

type IssueRequest struct {
	OwnerRef string  `json:"ownerRef"`
	Purpose  Purpose `json:"purpose"`
	Channel  Channel `json:"channel,omitempty"`
}

type ResendRequest struct {
	OwnerRef string  `json:"ownerRef"`
	Purpose  Purpose `json:"purpose"`
}

type IssueResponse struct {
	ChallengeID      string  `json:"challengeId"`
	MaskedOwnerRef   string  `json:"maskedOwnerRef"`
	CooldownSeconds  int     `json:"cooldownSeconds"`
	ExpiresInSeconds int     `json:"expiresInSeconds"`
	Channel          Channel `json:"channel"`
}

type VerifyRequest struct {
	SubmittedSecret string `json:"submittedSecret"`
}

type LinkVerifyRequest struct {
	Token string `json:"token"`
}

type VerifyResponse struct {
	ActionTokenID    string `json:"actionTokenId"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type RedeemRequest struct {
	ActionTokenID string          `json:"actionTokenId"`
	Purpose       Purpose         `json:"purpose"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type RedeemResponse struct {
	Success bool `json:"success"`
}

// NewIssueResponse converts res relative to now.
func NewIssueResponse(res *IssueResult, now time.Time) IssueResponse {
	return IssueResponse{
		ChallengeID:      res.ChallengeID,
		MaskedOwnerRef:   res.MaskedOwnerRef,
		CooldownSeconds:  res.CooldownSeconds,
		ExpiresInSeconds: ceilSeconds(res.ExpiresAt.Sub(now)),
		Channel:          res.Channel,
	}
}

// NewVerifyResponse converts res relative to now.
func NewVerifyResponse(res *VerifyResult, now time.Time) VerifyResponse {
	return VerifyResponse{
		ActionTokenID:    res.ActionTokenID,
		ExpiresInSeconds: ceilSeconds(res.ExpiresAt.Sub(now)),
	}
}
