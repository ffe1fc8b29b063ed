package repository

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// DemoCatalog mirrors the products seeded by migration 000002 so that STORE=memory
// runs start with the same catalog as a fresh database.
func DemoCatalog() []domain.Product {
	return []domain.Product{
		{Name: "Trailblazer 29", Subtitle: "Hardtail mountain bike", Description: "Aluminium frame, 100mm fork, 1x12 drivetrain.", Type: "mountain", Price: decimal.NewFromInt(8500000), Stock: 12},
		{Name: "Aero Sprint SL", Subtitle: "Carbon road bike", Description: "Full carbon aero frame with hydraulic disc brakes.", Type: "road", Price: decimal.NewFromInt(24500000), Stock: 5},
		{Name: "City Glide 7", Subtitle: "Commuter bike", Description: "Seven speed hub, fenders and rear rack included.", Type: "city", Price: decimal.NewFromInt(4200000), Stock: 20},
		{Name: "Summit MIPS Helmet", Subtitle: "Trail helmet", Description: "MIPS protection with adjustable visor.", Type: "accessory", Price: decimal.NewFromInt(1350000), Stock: 40},
		{Name: "Pro Clip Pedals", Subtitle: "Clipless road pedals", Description: "Carbon body pedals with adjustable release tension.", Type: "component", Price: decimal.NewFromInt(1750000), Stock: 25},
	}
}

// Seed inserts products in one transaction.
func Seed(ctx context.Context, store Store, products []domain.Product) error {
	return store.InTx(ctx, func(tx Tx) error {
		for i := range products {
			p := products[i]
			if err := tx.CreateProduct(ctx, &p); err != nil {
				return err
			}
		}
		return nil
	})
}
