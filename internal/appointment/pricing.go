package appointment

// DefaultHouseCallSurcharge is 50.00.
const DefaultHouseCallSurcharge Money = 5000

type PricingPolicy struct {
	HouseCallSurcharge Money
}

// Price applies the emergency multiplier (x1.5, rounded half up to the cent) or,
// failing that, the house-call surcharge when the service allows house calls.
func (p PricingPolicy) Price(svc ClinicService, emergency, houseCall bool) Money {
	base := svc.BasePrice
	if base < 0 {
		base = 0
	}
	switch {
	case emergency:
		return (base*3 + 1) / 2
	case houseCall && svc.AllowsHouseCall:
		return base + p.HouseCallSurcharge
	default:
		return base
	}
}
