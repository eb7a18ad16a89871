package repository

import (
	"github.com/pizza-nz/print-agent/internal/db"
)

// Repositories provides access to all repository instances
type Repositories struct {
	Preference *PreferenceRepository
	PrintJob   *PrintJobRepository
}

// NewRepositories creates a new repositories container
func NewRepositories(database *db.Database) *Repositories {
	return &Repositories{
		Preference: NewPreferenceRepository(database.DB),
		PrintJob:   NewPrintJobRepository(database.DB),
	}
}
