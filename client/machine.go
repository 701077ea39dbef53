package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/sirupsen/logrus"
)

// State is the step of the interaction.
type State int

const (
	ChoosingMethod State = iota
	AwaitingChallengeDelivery
	EnteringProof
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case ChoosingMethod:
		return "ChoosingMethod"
	case AwaitingChallengeDelivery:
		return "AwaitingChallengeDelivery"
	case EnteringProof:
		return "EnteringProof"
	case Success:
		return "Success"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrWrongState      = errors.New("client: action not allowed in current state")
	ErrCooldownActive  = errors.New("client: resend cooldown active")
	ErrIncompleteCode  = errors.New("client: code incomplete")
	ErrChannelNotOffer = errors.New("client: channel not offered")
)

// Backend is the server side of the interaction.
type Backend interface {
	Issue(ctx context.Context, req goVerify.IssueRequest) (*goVerify.IssueResponse, error)
	Resend(ctx context.Context, req goVerify.ResendRequest) (*goVerify.IssueResponse, error)
	Verify(ctx context.Context, challengeID, secret string) (*goVerify.VerifyResponse, error)
	VerifyLink(ctx context.Context, token string) (*goVerify.VerifyResponse, error)
}

type Config struct {
	Backend  Backend
	OwnerRef string
	Purpose  goVerify.Purpose
	// Channels offered to the user. With a single channel method choice is
	// skipped.
	Channels []goVerify.Channel
	Digits   int
	// RedirectDelay is how long Success is shown before OnRedirect runs.
	RedirectDelay time.Duration
	OnRedirect    func(actionTokenID string)
	Clock         Clock
	Logger        logrus.FieldLogger
}

// Snapshot is a copy of the machine state for rendering.
type Snapshot struct {
	State           State
	Channel         goVerify.Channel
	ChallengeID     string
	MaskedOwnerRef  string
	Cooldown        Cooldown
	ResendAvailable bool
	Cells           []string
	Focus           int
	ActionTokenID   string
	// Err is the last failure; Message is its user facing text.
	Err     error
	Message string
}

// Machine runs one verification attempt. All methods are safe to call from
// the ticker goroutine and the UI goroutine.
type Machine struct {
	cfg    Config
	clock  Clock
	logger logrus.FieldLogger

	mu          sync.Mutex
	state       State
	channel     goVerify.Channel
	challengeID string
	masked      string
	cooldown    Cooldown
	code        *CodeInput
	tokenID     string
	lastErr     error
	redirect    Timer
	closed      bool
}

func New(cfg Config) (*Machine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("client: backend required")
	}
	if !cfg.Purpose.Valid() {
		return nil, errors.New("client: unknown purpose")
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("client: at least one channel required")
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = 3 * time.Second
	}
	m := &Machine{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		code:   NewCodeInput(cfg.Digits),
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	m.logger = m.logger.WithField("purpose", cfg.Purpose)
	return m, nil
}

// Start requests the challenge right away when only one channel is offered.
// Otherwise it leaves the machine in ChoosingMethod.
func (m *Machine) Start(ctx context.Context) error {
	if len(m.cfg.Channels) == 1 {
		return m.Choose(ctx, m.cfg.Channels[0])
	}
	return nil
}

// Choose picks a delivery channel and requests a challenge.
func (m *Machine) Choose(ctx context.Context, channel goVerify.Channel) error {
	m.mu.Lock()
	if m.state != ChoosingMethod {
		m.mu.Unlock()
		return ErrWrongState
	}
	if !m.offers(channel) {
		m.mu.Unlock()
		return ErrChannelNotOffer
	}
	m.channel = channel
	m.setState(AwaitingChallengeDelivery)
	m.mu.Unlock()

	res, err := m.cfg.Backend.Issue(ctx, goVerify.IssueRequest{
		OwnerRef: m.cfg.OwnerRef,
		Purpose:  m.cfg.Purpose,
		Channel:  channel,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyIssue(res, err)
}

// Resend issues a fresh challenge once the cooldown is over.
func (m *Machine) Resend(ctx context.Context) error {
	m.mu.Lock()
	if m.state != EnteringProof {
		m.mu.Unlock()
		return ErrWrongState
	}
	m.cooldown = m.cooldown.At(m.clock.Now())
	if !m.cooldown.Ready() {
		m.mu.Unlock()
		return ErrCooldownActive
	}
	m.setState(AwaitingChallengeDelivery)
	m.mu.Unlock()

	res, err := m.cfg.Backend.Resend(ctx, goVerify.ResendRequest{
		OwnerRef: m.cfg.OwnerRef,
		Purpose:  m.cfg.Purpose,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err == nil, errors.Is(err, goVerify.ErrRateLimited), errors.Is(err, goVerify.ErrDeliveryFailed):
		// A failed delivery has already superseded the previous challenge.
		return m.applyIssue(res, err)
	default:
		// Unknown outcome: keep proof entry but allow another resend.
		m.lastErr = err
		m.code.Clear()
		m.setState(EnteringProof)
		return err
	}
}

// applyIssue moves out of AwaitingChallengeDelivery. A cooldown rejection
// resumes the pending challenge with its remaining cooldown.
func (m *Machine) applyIssue(res *goVerify.IssueResponse, err error) error {
	now := m.clock.Now()
	m.code.Clear()

	if err == nil {
		m.challengeID = res.ChallengeID
		m.masked = res.MaskedOwnerRef
		if res.Channel != "" {
			m.channel = res.Channel
		}
		m.cooldown = StartCooldown(now, res.CooldownSeconds)
		m.lastErr = nil
		m.setState(EnteringProof)
		return nil
	}

	m.lastErr = err
	var rl *goVerify.RateLimitError
	switch {
	case errors.As(err, &rl) && (rl.ChallengeID != "" || m.challengeID != ""):
		if rl.ChallengeID != "" {
			m.challengeID = rl.ChallengeID
		}
		if rl.MaskedOwnerRef != "" {
			m.masked = rl.MaskedOwnerRef
		}
		m.cooldown = StartCooldown(now, rl.RetryAfterSeconds())
		m.setState(EnteringProof)
	case errors.Is(err, goVerify.ErrDeliveryFailed):
		m.challengeID = ""
		m.cooldown = Cooldown{}
		m.setState(ChoosingMethod)
	default:
		m.setState(Failed)
	}
	return err
}

// EditCode applies edit to the code entry cells while proof entry is open and
// returns the resulting snapshot.
//
//	m.EditCode(func(in *client.CodeInput) { in.Type('4') })
func (m *Machine) EditCode(edit func(*CodeInput)) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == EnteringProof && m.channel == goVerify.ChannelOTP {
		edit(m.code)
	}
	return m.snapshot()
}

// Submit sends the entered code. Any failure keeps EnteringProof, records the
// error and clears the code; the cooldown is left as is.
func (m *Machine) Submit(ctx context.Context) error {
	m.mu.Lock()
	if m.state != EnteringProof || m.channel != goVerify.ChannelOTP {
		m.mu.Unlock()
		return ErrWrongState
	}
	if !m.code.Complete() {
		m.mu.Unlock()
		return ErrIncompleteCode
	}
	challengeID, secret := m.challengeID, m.code.Value()
	m.mu.Unlock()

	res, err := m.cfg.Backend.Verify(ctx, challengeID, secret)
	return m.applyVerify(res, err)
}

// SubmitLink sends a link token taken from an email.
func (m *Machine) SubmitLink(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state != EnteringProof || m.channel != goVerify.ChannelLink {
		m.mu.Unlock()
		return ErrWrongState
	}
	m.mu.Unlock()

	res, err := m.cfg.Backend.VerifyLink(ctx, token)
	return m.applyVerify(res, err)
}

func (m *Machine) applyVerify(res *goVerify.VerifyResponse, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != EnteringProof {
		return ErrWrongState
	}
	if err != nil {
		m.lastErr = err
		m.code.Clear()
		return err
	}

	m.lastErr = nil
	m.tokenID = res.ActionTokenID
	m.setState(Success)
	if m.cfg.OnRedirect != nil && !m.closed {
		tokenID := res.ActionTokenID
		m.redirect = m.clock.AfterFunc(m.cfg.RedirectDelay, func() {
			m.cfg.OnRedirect(tokenID)
		})
	}
	return nil
}

// Tick recomputes the cooldown and returns the new snapshot.
func (m *Machine) Tick() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown = m.cooldown.At(m.clock.Now())
	return m.snapshot()
}

// Run ticks once a second until ctx is done or the machine leaves the
// proof entry steps. onTick may be nil.
func (m *Machine) Run(ctx context.Context, onTick func(Snapshot)) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := m.Tick()
			if onTick != nil {
				onTick(snap)
			}
			if snap.State == Success || snap.State == Failed {
				return
			}
		}
	}
}

// Close cancels a pending redirect. The server side challenge is left to
// expire on its own.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.redirect != nil {
		m.redirect.Stop()
		m.redirect = nil
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Machine) snapshot() Snapshot {
	cd := m.cooldown.At(m.clock.Now())
	return Snapshot{
		State:           m.state,
		Channel:         m.channel,
		ChallengeID:     m.challengeID,
		MaskedOwnerRef:  m.masked,
		Cooldown:        cd,
		ResendAvailable: m.state == EnteringProof && cd.Ready(),
		Cells:           m.code.Cells(),
		Focus:           m.code.Focus(),
		ActionTokenID:   m.tokenID,
		Err:             m.lastErr,
		Message:         goVerify.Describe(m.lastErr),
	}
}

func (m *Machine) offers(channel goVerify.Channel) bool {
	for _, c := range m.cfg.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

func (m *Machine) setState(s State) {
	if m.state != s {
		m.logger.WithFields(logrus.Fields{"from": m.state, "to": s}).Debug("verification state")
	}
	m.state = s
}
