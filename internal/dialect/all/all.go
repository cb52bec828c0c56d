// Package all links every bundled dialect provider.
package all

import (
	_ "extractor/internal/dialect/mssql"
	_ "extractor/internal/dialect/mysql"
	_ "extractor/internal/dialect/postgres"
	_ "extractor/internal/dialect/sqlite"
)
