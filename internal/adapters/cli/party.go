package cli

import (
	"github.com/spf13/cobra"

	"freight-ledger/internal/app"
)

func (r *runner) partyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "party",
		Short: "Manage companies, clients, warehouses, lines and carriers",
	}

	create := &cobra.Command{
		Use:     "create",
		Short:   "Register a party",
		Example: `  ledger party create --kind line --name "Ocean Line"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			name, _ := cmd.Flags().GetString("name")
			p, err := r.svc.CreateParty(cmd.Context(), app.CreatePartyRequest{Kind: kind, Name: name})
			if err != nil {
				return err
			}
			return r.emit(p, func() { printParty(p) })
		},
	}
	create.Flags().String("kind", "", "company, client, warehouse, line or carrier")
	create.Flags().String("name", "", "display name")
	_ = create.MarkFlagRequired("kind")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List parties with their balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			parties, err := r.svc.ListParties(cmd.Context(), kind)
			if err != nil {
				return err
			}
			return r.emit(parties, func() { printParties(parties, "PARTIES") })
		},
	}
	list.Flags().String("kind", "", "only parties of this kind")

	show := &cobra.Command{
		Use:     "show <kind:id>",
		Short:   "Show one party",
		Example: `  ledger party show client:2`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := r.svc.GetParty(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return r.emit(p, func() { printParty(p) })
		},
	}

	categories := &cobra.Command{
		Use:   "categories",
		Short: "List expense categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := r.svc.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			return r.emit(cats, func() { printCategories(cats) })
		},
	}

	cmd.AddCommand(create, list, show, categories)
	return cmd
}

func (r *runner) carCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "car",
		Short: "Manage cars and their provider charges",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a car for a client",
		Example: `  ledger car add --vin WDB1234 --client 2 --arrival 2026-03-01 --free-days 5 --rate 10
  ledger car add --vin WDB1234 --client 2 --warehouse 4 --arrival 2026-03-01 --departure 2026-03-20 --rate 12.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimalFlag(cmd, "rate")
			if err != nil {
				return err
			}
			req := app.CreateCarRequest{DailyRate: rate, WarehouseID: optionalID(cmd, "warehouse")}
			req.VIN, _ = cmd.Flags().GetString("vin")
			req.ClientID, _ = cmd.Flags().GetInt("client")
			req.ArrivalDate, _ = cmd.Flags().GetString("arrival")
			req.DepartureDate, _ = cmd.Flags().GetString("departure")
			req.FreeDays, _ = cmd.Flags().GetInt("free-days")

			car, err := r.svc.CreateCar(cmd.Context(), req)
			if err != nil {
				return err
			}
			return r.emit(car, func() { printCar(car) })
		},
	}
	add.Flags().String("vin", "", "vehicle identification number")
	add.Flags().Int("client", 0, "owning client id")
	add.Flags().Int("warehouse", 0, "storing warehouse id")
	add.Flags().String("arrival", "", "arrival date (YYYY-MM-DD)")
	add.Flags().String("departure", "", "departure date (YYYY-MM-DD)")
	add.Flags().Int("free-days", 0, "storage days not charged")
	add.Flags().String("rate", "0", "daily storage rate")
	_ = add.MarkFlagRequired("vin")
	_ = add.MarkFlagRequired("client")
	_ = add.MarkFlagRequired("arrival")

	charge := &cobra.Command{
		Use:     "charge <car-id>",
		Short:   "Add a provider charge to a car",
		Example: `  ledger car charge 7 --provider line:3 --name Shipping --amount 800`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			carID, err := argID(args, 0, "car_id")
			if err != nil {
				return err
			}
			amount, err := decimalFlag(cmd, "amount")
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")
			name, _ := cmd.Flags().GetString("name")
			ch, err := r.svc.AddCarCharge(cmd.Context(), app.AddChargeRequest{
				CarID: carID, Provider: provider, Name: name, Amount: amount,
			})
			if err != nil {
				return err
			}
			return r.emit(ch, func() { printCharge(ch) })
		},
	}
	charge.Flags().String("provider", "", "charging party (kind:id)")
	charge.Flags().String("name", "", "service name, e.g. Shipping")
	charge.Flags().String("amount", "", "charge amount")
	_ = charge.MarkFlagRequired("provider")
	_ = charge.MarkFlagRequired("name")
	_ = charge.MarkFlagRequired("amount")

	removeCharge := &cobra.Command{
		Use:   "remove-charge <charge-id>",
		Short: "Delete a charge, keeping an archived copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "charge_id")
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			if err := r.svc.DeleteCarCharge(cmd.Context(), id, reason); err != nil {
				return err
			}
			return r.emit(map[string]int{"deleted_charge_id": id}, func() { printDone("Charge %d deleted.", id) })
		},
	}
	removeCharge.Flags().String("reason", "", "why the charge was removed")

	cost := &cobra.Command{
		Use:   "cost <car-id>",
		Short: "Show the priced view of a car",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "car_id")
			if err != nil {
				return err
			}
			uc, err := r.svc.GetUnitCost(cmd.Context(), id)
			if err != nil {
				return err
			}
			return r.emit(uc, func() { printUnitCost(uc) })
		},
	}

	cmd.AddCommand(add, charge, removeCharge, cost)
	return cmd
}
