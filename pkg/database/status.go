package database

import (
	"context"

	"gorm.io/gorm"
)

// TableStatus reports one service table for the migrate CLI.
type TableStatus struct {
	Table  string
	Exists bool
	Rows   int64
}

// Status inspects every table in Models.
func Status(ctx context.Context, db *gorm.DB) ([]TableStatus, error) {
	out := make([]TableStatus, 0, len(Models()))
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, err
		}
		st := TableStatus{Table: stmt.Schema.Table, Exists: db.Migrator().HasTable(model)}
		if st.Exists {
			if err := db.WithContext(ctx).Model(model).Count(&st.Rows).Error; err != nil {
				return nil, err
			}
		}
		out = append(out, st)
	}
	return out, nil
}
