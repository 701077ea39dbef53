package goVerify

import (
	"context"
	"errors"

	internalflows "github.com/MrEthical07/goVerify/internal/flows"
)

const (
	auditEventChallengeIssued       = "challenge_issued"
	auditEventChallengeSuperseded   = "challenge_superseded"
	auditEventIssueRateLimited      = "challenge_issue_rate_limited"
	auditEventDeliveryFailed        = "challenge_delivery_failed"
	auditEventChallengeVerified     = "challenge_verified"
	auditEventVerifyFailed          = "challenge_verify_failed"
	auditEventAttemptsExceeded      = "challenge_attempts_exceeded"
	auditEventChallengeExpired      = "challenge_expired"
	auditEventChallengeReplay       = "challenge_replay"
	auditEventVerifyRateLimited     = "challenge_verify_rate_limited"
	auditEventActionTokenIssued     = "action_token_issued"
	auditEventActionTokenRedeemed   = "action_token_redeemed"
	auditEventRedeemFailed          = "action_token_redeem_failed"
	auditEventRedeemPurposeMismatch = "action_token_purpose_mismatch"
	auditEventRedeemReplay          = "action_token_replay"
	auditEventRedeemRateLimited     = "action_token_rate_limited"
)

// AuditErrorCode is the short error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidInput     AuditErrorCode = "invalid_input"
	auditErrSubjectNotFound  AuditErrorCode = "subject_not_found"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrDeliveryFailed   AuditErrorCode = "delivery_failed"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrExpired          AuditErrorCode = "expired"
	auditErrAlreadyFinalized AuditErrorCode = "already_finalized"
	auditErrInvalidCode      AuditErrorCode = "invalid_code"
	auditErrTokenExpired     AuditErrorCode = "token_expired"
	auditErrAlreadyConsumed  AuditErrorCode = "already_consumed"
	auditErrPurposeMismatch  AuditErrorCode = "purpose_mismatch"
	auditErrStaleState       AuditErrorCode = "stale_state"
	auditErrActionFailed     AuditErrorCode = "action_failed"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	fields internalflows.AuditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		TenantID:    tenantIDFromContext(ctx),
		ChallengeID: fields.ChallengeID,
		OwnerRef:    fields.OwnerRef,
		SubjectRef:  fields.SubjectRef,
		Purpose:     string(purposeFromCode(fields.Purpose)),
		Channel:     string(channelFromCode(fields.Channel)),
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if e.resolver == nil {
		// Without a resolver the subject is the raw owner reference.
		event.SubjectRef = ""
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPurposeDisabled),
		errors.Is(err, ErrChannelNotAllowed):
		return auditErrInvalidInput
	case errors.Is(err, ErrSubjectNotFound):
		return auditErrSubjectNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrAlreadyFinalized):
		return auditErrAlreadyFinalized
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrAlreadyConsumed):
		return auditErrAlreadyConsumed
	case errors.Is(err, ErrPurposeMismatch):
		return auditErrPurposeMismatch
	case errors.Is(err, ErrStaleState):
		return auditErrStaleState
	case errors.Is(err, ErrActionFailed):
		return auditErrActionFailed
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
