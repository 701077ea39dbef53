package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/sirupsen/logrus"
)

const (
	defaultWhatsAppBaseURL = "https://graph.facebook.com/v19.0"
	defaultHTTPTimeout     = 15 * time.Second
	maxErrorBody           = 512
)

// WhatsAppConfig configures the WhatsApp gateway. Template must be an
// approved authentication template whose body takes the code as its only
// parameter.
type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Template      string
	Language      string
	HTTPClient    *http.Client
	Logger        logrus.FieldLogger
}

// WhatsApp delivers OTP codes over the WhatsApp Business messages endpoint.
type WhatsApp struct {
	endpoint string
	token    string
	template string
	language string
	client   *http.Client
	logger   logrus.FieldLogger
}

func NewWhatsApp(cfg WhatsAppConfig) (*WhatsApp, error) {
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" || cfg.Template == "" {
		return nil, fmt.Errorf("whatsapp: phone number id, access token and template are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWhatsAppBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &WhatsApp{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.PhoneNumberID + "/messages",
		token:    cfg.AccessToken,
		template: cfg.Template,
		language: cfg.Language,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger.WithField("component", "delivery.whatsapp"),
	}, nil
}

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waComponent struct {
	Type       string        `json:"type"`
	SubType    string        `json:"sub_type,omitempty"`
	Index      string        `json:"index,omitempty"`
	Parameters []waParameter `json:"parameters"`
}

type waTemplate struct {
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Components []waComponent `json:"components"`
}

type waMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Template         waTemplate `json:"template"`
}

func (w *WhatsApp) payload(msg goVerify.Message) waMessage {
	code := []waParameter{{Type: "text", Text: msg.Secret}}
	tpl := waTemplate{
		Name: w.template,
		Components: []waComponent{
			{Type: "body", Parameters: code},
			// Authentication templates carry a copy-code button that repeats the code.
			{Type: "button", SubType: "url", Index: "0", Parameters: code},
		},
	}
	tpl.Language.Code = w.language

	return waMessage{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(msg.Destination, "+"),
		Type:             "template",
		Template:         tpl,
	}
}

// Deliver sends msg. Only OTP messages are accepted.
func (w *WhatsApp) Deliver(ctx context.Context, msg goVerify.Message) error {
	if msg.Channel != goVerify.ChannelOTP {
		return fmt.Errorf("whatsapp: unsupported channel %s", msg.Channel)
	}

	raw, err := json.Marshal(w.payload(msg))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		w.logger.WithFields(logrus.Fields{
			"challenge_id": msg.ChallengeID,
			"status":       resp.StatusCode,
		}).Warn("whatsapp delivery rejected")
		return fmt.Errorf("whatsapp: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	w.logger.WithField("challenge_id", msg.ChallengeID).Debug("whatsapp delivery accepted")
	return nil
}
