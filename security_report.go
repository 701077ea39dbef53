package goVerify

import (
	"time"

	"github.com/MrEthical07/goVerify/internal/devbypass"
)

// SecurityReport summarizes the security posture of a built Engine. It is
// meant for startup logs and health endpoints and carries no secrets.
type SecurityReport struct {
	EphemeralPepper bool
	DevBypassActive bool
	SandboxGateway  bool
	ActionTokenTTL  time.Duration
	ThrottlesActive bool
	AuditEnabled    bool
	Purposes        []PurposeReport
}

type PurposeReport struct {
	Purpose         Purpose
	Enabled         bool
	Channels        []Channel
	CodeTTL         time.Duration
	LinkTTL         time.Duration
	Cooldown        time.Duration
	MaxAttempts     int
	OTPDigits       int
	EnumerationSafe bool
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	limits := e.config.Limits
	throttles := limits.IssuePerOwner.enabled() ||
		limits.IssuePerIP.enabled() ||
		limits.VerifyPerChallenge.enabled() ||
		limits.VerifyPerIP.enabled() ||
		limits.RedeemPerIP.enabled()

	report := SecurityReport{
		EphemeralPepper: e.ephemeralPepper,
		DevBypassActive: devbypass.Enabled && e.sandbox && e.config.Dev.FixedOTP != "",
		SandboxGateway:  e.sandbox,
		ActionTokenTTL:  e.config.ActionToken.TTL,
		ThrottlesActive: throttles,
		AuditEnabled:    e.audit != nil,
	}

	for _, purpose := range Purposes() {
		p, ok := e.config.Purposes[purpose]
		if !ok {
			continue
		}
		report.Purposes = append(report.Purposes, PurposeReport{
			Purpose:         purpose,
			Enabled:         p.Enabled,
			Channels:        append([]Channel(nil), p.Channels...),
			CodeTTL:         p.CodeTTL,
			LinkTTL:         p.LinkTTL,
			Cooldown:        p.Cooldown,
			MaxAttempts:     p.MaxAttempts,
			OTPDigits:       p.OTPDigits,
			EnumerationSafe: p.EnumerationSafe,
		})
	}

	return report
}
