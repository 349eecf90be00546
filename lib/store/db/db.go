// Package db instantiates the configured snapshot store backend.
package db

import (
	"fmt"

	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store/mongo"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store/postgres"
)

// Supported database types.
const (
	MONGODB  = "mongodb"
	POSTGRES = "postgres"
)

// New connects to the database of the given type and returns the store.
func New(dbtype, conn string) (store.DB, error) {
	switch dbtype {
	case MONGODB:
		return mongo.New(conn)
	case POSTGRES:
		return postgres.New(conn)
	default:
		return nil, fmt.Errorf("%w: %s", store.ErrBadDBType, dbtype)
	}
}
