package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Car is a shipped unit. Its cost is the sum of provider charges plus storage.
type Car struct {
	ID               int             `json:"id"`
	VIN              string          `json:"vin"`
	ClientID         int             `json:"client_id"`
	WarehouseID      *int            `json:"warehouse_id,omitempty"`
	ArrivalDate      time.Time       `json:"arrival_date"`
	DepartureDate    *time.Time      `json:"departure_date,omitempty"`
	FreeDays         int             `json:"free_days"`
	DailyStorageRate decimal.Decimal `json:"daily_storage_rate"`
}

// CarCharge is one provider's charge against a car (shipping, towing, customs...).
type CarCharge struct {
	ID       int             `json:"id"`
	CarID    int             `json:"car_id"`
	Provider PartyRef        `json:"provider"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
}

// UnitCost is the priced view of a car as seen by invoice generation and the
// comparison engine.
type UnitCost struct {
	UnitID      int             `json:"unit_id"`
	VIN         string          `json:"vin"`
	ClientID    int             `json:"client_id"`
	Warehouse   *PartyRef       `json:"warehouse,omitempty"`
	StorageDays int             `json:"storage_days"`
	DailyRate   decimal.Decimal `json:"daily_rate"`
	Charges     []CarCharge     `json:"charges"`
}

func (u UnitCost) StorageCost() decimal.Decimal {
	return u.DailyRate.Mul(decimal.NewFromInt(int64(u.StorageDays))).Round(2)
}

func (u UnitCost) ChargesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range u.Charges {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// Total is the full cost of the unit across all providers.
func (u UnitCost) Total() decimal.Decimal {
	return u.ChargesTotal().Add(u.StorageCost())
}

// StorageDays counts billable days between arrival and departure (or asOf
// when the car is still stored), less the free days. Never negative.
func StorageDays(arrival time.Time, departure *time.Time, freeDays int, asOf time.Time) int {
	end := dateOnly(asOf)
	if departure != nil {
		end = dateOnly(*departure)
	}
	days := int(end.Sub(dateOnly(arrival)).Hours()/24) - freeDays
	if days < 0 {
		return 0
	}
	return days
}
