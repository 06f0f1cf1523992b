// Package repository provides the SQLite-backed stores of the gateway: the
// device repository (devices and their deduplicated templates), the file
// repository (downloaded files) and the outbound message store used by the
// platform publisher. All stores share one gorm handle opened via Open.
package repository

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// Open opens (and creates if needed) the gateway database at path.
// Foreign keys are switched on so template child rows cascade on delete.
// SQLite allows a single writer; one pooled connection also keeps :memory:
// databases coherent across calls.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.ContainsRune(dsn, '?') {
		dsn += "?_foreign_keys=on"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
