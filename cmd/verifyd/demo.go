package main

import (
	"context"
	"errors"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/internal/accounts"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/sirupsen/logrus"
)

const (
	demoTenant      = goVerify.DefaultTenantID
	demoPhone       = "+6281200000001"
	demoEmail       = "demo@example.com"
	demoDealerPhone = "+6281200000002"
)

// seedDemo creates a demo account and a pending dealer application in the
// default tenant, and logs a bearer token for the account when manager is
// set. Existing records are left alone.
func seedDemo(ctx context.Context, store accounts.Store, manager *jwt.Manager, logger logrus.FieldLogger) error {
	acc := &accounts.Account{TenantID: demoTenant, Phone: demoPhone, Email: demoEmail}
	err := store.CreateAccount(ctx, acc)
	switch {
	case errors.Is(err, accounts.ErrAlreadyExists):
		existing, err := store.AccountByPhone(ctx, demoTenant, demoPhone)
		if err != nil {
			return err
		}
		acc = existing
	case err != nil:
		return err
	}

	if _, err := store.DealerApplicationByPhone(ctx, demoTenant, demoDealerPhone); errors.Is(err, accounts.ErrNotFound) {
		if err := store.CreateDealerApplication(ctx, &accounts.DealerApplication{TenantID: demoTenant, Phone: demoDealerPhone}); err != nil {
			return err
		}
	}

	fields := logrus.Fields{
		"account_id":   acc.ID,
		"phone":        demoPhone,
		"email":        demoEmail,
		"dealer_phone": demoDealerPhone,
	}
	if manager != nil {
		token, err := manager.Issue(jwt.Identity{AccountID: acc.ID, TenantID: demoTenant, Phone: acc.Phone, Email: acc.Email})
		if err != nil {
			return err
		}
		fields["bearer"] = token
	}
	logger.WithFields(fields).Info("verifyd: demo data seeded")
	return nil
}
