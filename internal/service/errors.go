package service

import (
	"github.com/martacalvinho/buddy-billing/internal/domain"
)

// Checkout and portal errors
var (
	ErrInvalidPlan        = domain.Errorf(domain.EINVALID, "", "Only the pro plan can be purchased")
	ErrMissingPriceConfig = domain.Errorf(domain.EINTERNAL, "", "Billing price is not configured")
	ErrNoBillingAccount   = domain.Errorf(domain.ENOTFOUND, "", "No billing account on file")
)

// Webhook reconciliation errors
var (
	ErrDuplicateEvent = domain.Errorf(domain.ECONFLICT, "", "Webhook event already processed")
)
