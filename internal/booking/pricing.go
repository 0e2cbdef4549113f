package booking

import "github.com/shopspring/decimal"

// Pricing is the amount breakdown computed for a new booking.
type Pricing struct {
	BasePrice          decimal.Decimal
	PlatformCommission decimal.Decimal
	ServiceCharge      decimal.Decimal
	TotalAmount        decimal.Decimal
}

// ComputePricing derives the charge breakdown from a base price. The payer
// owes base plus the flat service charge; the commission is the platform's
// cut of the base and is not added on top.
func ComputePricing(basePrice, commissionRate, serviceCharge decimal.Decimal) Pricing {
	return Pricing{
		BasePrice:          basePrice,
		PlatformCommission: basePrice.Mul(commissionRate).Round(2),
		ServiceCharge:      serviceCharge,
		TotalAmount:        basePrice.Add(serviceCharge),
	}
}
