package app

import (
	"context"

	"github.com/imrishuroy/go-table-reservations/internal/reservations"
)

// Demo data used by the memory driver and `resvctl seed`.
var (
	DemoRestaurant = reservations.Restaurant{
		ID:                 "demo",
		Name:               "Demo Bistro",
		Timezone:           "UTC",
		OpeningTime:        "11:00",
		ClosingTime:        "23:00",
		AdvanceBookingDays: 90,
	}
	DemoTables = []reservations.Table{
		{ID: "demo-1", RestaurantID: "demo", Number: 1, Capacity: 2, Active: true},
		{ID: "demo-2", RestaurantID: "demo", Number: 2, Capacity: 4, Active: true},
		{ID: "demo-3", RestaurantID: "demo", Number: 3, Capacity: 8, Active: true},
	}
)

// SeedDemo writes the demo restaurant and its tables.
func SeedDemo(ctx context.Context, repo reservations.Repository) error {
	rest := DemoRestaurant
	if err := repo.PutRestaurant(ctx, &rest); err != nil {
		return err
	}
	for i := range DemoTables {
		t := DemoTables[i]
		if err := repo.PutTable(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}
