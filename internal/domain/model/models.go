package model

// AutoMigrate の対象
func All() []any {
	return []any{
		&Product{},
		&Profile{},
		&Order{},
		&OrderItem{},
		&InventoryAdjustment{},
		&AuditLog{},
	}
}
