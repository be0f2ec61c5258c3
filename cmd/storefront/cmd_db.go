package main

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/domain/model"
	"storefront/internal/infra/db"
	infraRepo "storefront/internal/infra/repository"
	repo "storefront/internal/repository"

	"github.com/spf13/cobra"
)

// storefront migrate
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}
		gormDB, err := db.Connect(cfg)
		if err != nil {
			return err
		}
		fmt.Println("Running migrations…")
		return db.Migrate(gormDB)
	},
}

// 開発用の商品
var seedProducts = []model.Product{
	{ID: "7f1c2b9e-0d4a-4c55-9a3e-2b1f6c0d8e01", Name: "Laptop", Description: "14-inch, 16GB RAM", Price: 99999, Stock: 5, Category: "computers"},
	{ID: "7f1c2b9e-0d4a-4c55-9a3e-2b1f6c0d8e02", Name: "Wireless Mouse", Description: "2.4GHz, USB receiver", Price: 1999, Stock: 40, Category: "accessories"},
	{ID: "7f1c2b9e-0d4a-4c55-9a3e-2b1f6c0d8e03", Name: "Mechanical Keyboard", Description: "Brown switches", Price: 8950, Stock: 12, Category: "accessories"},
	{ID: "7f1c2b9e-0d4a-4c55-9a3e-2b1f6c0d8e04", Name: "27\" Monitor", Description: "1440p, 144Hz", Price: 32900, Stock: 3, Category: "displays"},
}

// storefront seed
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert sample products (existing ones are skipped)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}
		gormDB, err := db.Connect(cfg)
		if err != nil {
			return err
		}
		if err := db.Migrate(gormDB); err != nil {
			return err
		}

		products := infraRepo.NewRepos(gormDB).Products()
		return seed(cmd.Context(), products)
	},
}

func seed(ctx context.Context, products repo.ProductRepository) error {
	created := 0
	for _, p := range seedProducts {
		if _, err := products.FindByID(ctx, p.ID); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if _, err := products.Create(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", p.Name, err)
		}
		created++
	}
	fmt.Printf("Seeded %d products\n", created)
	return nil
}
