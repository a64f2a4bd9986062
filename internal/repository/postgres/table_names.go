package postgres

import "fmt"

// TableNames holds dynamically prefixed table names so dev/test/prod
// environments can share one database.
type TableNames struct {
	Documents string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Documents: fmt.Sprintf("%sdocuments", prefix),
	}
}
