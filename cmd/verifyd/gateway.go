package main

import (
	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/delivery"
	"github.com/MrEthical07/goVerify/internal/config"
	"github.com/sirupsen/logrus"
)

// newGateway routes OTP codes to WhatsApp and links to email in live mode.
// Sandbox mode logs every message instead.
func newGateway(cfg *config.Config, logger *logrus.Logger) (goVerify.DeliveryGateway, error) {
	if cfg.Sandbox() {
		return delivery.NewSandbox(logger, 100), nil
	}

	wa, err := delivery.NewWhatsApp(delivery.WhatsAppConfig{
		BaseURL:       cfg.WhatsAppBaseURL,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		AccessToken:   cfg.WhatsAppAccessToken,
		Template:      cfg.WhatsAppTemplate,
		Language:      cfg.WhatsAppLanguage,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	mail, err := delivery.NewSMTP(delivery.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return delivery.NewRouter().
		Route(goVerify.ChannelOTP, wa).
		Route(goVerify.ChannelLink, mail), nil
}
