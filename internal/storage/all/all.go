// Package all registers every storage backend with the storage registry.
//
// Configuration selects which backend to use, but the binary must be built
// with support for all of them.
package all

import (
	_ "tripetl/internal/storage/mssql"
	_ "tripetl/internal/storage/mysql"
	_ "tripetl/internal/storage/postgres"
	_ "tripetl/internal/storage/sqlite"
)
