package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UnitCostSource supplies priced units for invoice generation and audits.
// q is the caller's transaction or pool so that reads join the caller's
// atomic unit. Storage for cars without a departure date is counted up to
// asOf.
type UnitCostSource interface {
	UnitCosts(ctx context.Context, q Querier, unitIDs []int, asOf time.Time) ([]UnitCost, error)
}

type pgUnitCostSource struct{}

// NewUnitCostSource returns the cars/car_services backed source.
func NewUnitCostSource() UnitCostSource {
	return pgUnitCostSource{}
}

func (pgUnitCostSource) UnitCosts(ctx context.Context, q Querier, unitIDs []int, asOf time.Time) ([]UnitCost, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, vin, client_id, warehouse_id, arrival_date, departure_date, free_days, daily_storage_rate
		FROM cars
		WHERE id = ANY($1)
		ORDER BY id
	`, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query cars: %w", err)
	}
	var units []UnitCost
	index := make(map[int]int)
	for rows.Next() {
		var c Car
		if err := rows.Scan(&c.ID, &c.VIN, &c.ClientID, &c.WarehouseID, &c.ArrivalDate, &c.DepartureDate, &c.FreeDays, &c.DailyStorageRate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan car: %w", err)
		}
		u := UnitCost{
			UnitID:      c.ID,
			VIN:         c.VIN,
			ClientID:    c.ClientID,
			StorageDays: StorageDays(c.ArrivalDate, c.DepartureDate, c.FreeDays, asOf),
			DailyRate:   c.DailyStorageRate,
		}
		if c.WarehouseID != nil {
			u.Warehouse = &PartyRef{Kind: PartyWarehouse, ID: *c.WarehouseID}
		}
		index[c.ID] = len(units)
		units = append(units, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cars: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT id, car_id, provider_kind, provider_id, name, amount
		FROM car_services
		WHERE car_id = ANY($1)
		ORDER BY car_id, id
	`, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query car services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ch CarCharge
		if err := rows.Scan(&ch.ID, &ch.CarID, &ch.Provider.Kind, &ch.Provider.ID, &ch.Name, &ch.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan car service: %w", err)
		}
		if i, ok := index[ch.CarID]; ok {
			units[i].Charges = append(units[i].Charges, ch)
		}
	}
	return units, rows.Err()
}

// UnitRegistry maintains the cars and their provider charges.
type UnitRegistry interface {
	CreateCar(ctx context.Context, car Car) (*Car, error)
	AddCarCharge(ctx context.Context, charge CarCharge) (*CarCharge, error)
	// DeleteCarCharge moves the charge into deleted_car_services so audits
	// can still explain historic invoice lines.
	DeleteCarCharge(ctx context.Context, chargeID int, reason string) error
	GetUnitCost(ctx context.Context, carID int) (*UnitCost, error)
}

type unitRegistry struct {
	pool   *pgxpool.Pool
	source UnitCostSource
}

func NewUnitRegistry(pool *pgxpool.Pool, source UnitCostSource) UnitRegistry {
	return &unitRegistry{pool: pool, source: source}
}

func (r *unitRegistry) CreateCar(ctx context.Context, car Car) (*Car, error) {
	car.VIN = strings.ToUpper(strings.TrimSpace(car.VIN))
	if car.VIN == "" {
		return nil, invalid("vin", "must not be empty")
	}
	if car.FreeDays < 0 {
		return nil, invalid("free_days", "must not be negative")
	}
	if car.DailyStorageRate.IsNegative() {
		return nil, invalid("daily_storage_rate", "must not be negative")
	}
	if car.DepartureDate != nil && car.DepartureDate.Before(car.ArrivalDate) {
		return nil, invalid("departure_date", "is before arrival_date")
	}
	if err := ensureParty(ctx, r.pool, "client_id", PartyRef{Kind: PartyClient, ID: car.ClientID}); err != nil {
		return nil, err
	}
	if car.WarehouseID != nil {
		if err := ensureParty(ctx, r.pool, "warehouse_id", PartyRef{Kind: PartyWarehouse, ID: *car.WarehouseID}); err != nil {
			return nil, err
		}
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO cars (vin, client_id, warehouse_id, arrival_date, departure_date, free_days, daily_storage_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, car.VIN, car.ClientID, car.WarehouseID, car.ArrivalDate, car.DepartureDate, car.FreeDays, car.DailyStorageRate).Scan(&car.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("vin", "car %s already exists", car.VIN)
		}
		return nil, fmt.Errorf("failed to create car: %w", err)
	}
	return &car, nil
}

func (r *unitRegistry) AddCarCharge(ctx context.Context, charge CarCharge) (*CarCharge, error) {
	if strings.TrimSpace(charge.Name) == "" {
		return nil, invalid("name", "must not be empty")
	}
	if charge.Amount.IsNegative() {
		return nil, invalid("amount", "must not be negative")
	}
	if err := ensureParty(ctx, r.pool, "provider", charge.Provider); err != nil {
		return nil, err
	}
	ok, err := carExists(ctx, r.pool, charge.CarID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid("car_id", "car %d does not exist", charge.CarID)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO car_services (car_id, provider_kind, provider_id, name, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, charge.CarID, string(charge.Provider.Kind), charge.Provider.ID, charge.Name, charge.Amount).Scan(&charge.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to add car service: %w", err)
	}
	return &charge, nil
}

func (r *unitRegistry) DeleteCarCharge(ctx context.Context, chargeID int, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		WITH removed AS (
			DELETE FROM car_services WHERE id = $1
			RETURNING id, car_id, provider_kind, provider_id, name, amount
		)
		INSERT INTO deleted_car_services (service_id, car_id, provider_kind, provider_id, name, amount, reason)
		SELECT id, car_id, provider_kind, provider_id, name, amount, $2 FROM removed
	`, chargeID, reason)
	if err != nil {
		return fmt.Errorf("failed to delete car service %d: %w", chargeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("car service %d: %w", chargeID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *unitRegistry) GetUnitCost(ctx context.Context, carID int) (*UnitCost, error) {
	units, err := r.source.UnitCosts(ctx, r.pool, []int{carID}, time.Now())
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("car %d: %w", carID, ErrNotFound)
	}
	return &units[0], nil
}

// carExists is used when validating invoice lines and unit links.
func carExists(ctx context.Context, q Querier, carID int) (bool, error) {
	var id int
	err := q.QueryRow(ctx, `SELECT id FROM cars WHERE id = $1`, carID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check car %d: %w", carID, err)
	}
	return true, nil
}
