package repositories

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate adds SELECT ... FOR UPDATE on engines that support row locks.
// SQLite serializes writers on its own and rejects the clause.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
