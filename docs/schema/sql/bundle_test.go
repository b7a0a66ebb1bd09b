package sqldocs

import (
	"strings"
	"testing"
)

func TestBundlesDeclareDocumentsTable(t *testing.T) {
	for name, ddl := range map[string]string{"sqlite": SQLite, "postgres": Postgres} {
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS documents") {
			t.Fatalf("%s bundle missing documents table", name)
		}
		if !strings.Contains(ddl, "UNIQUE (collection, id)") {
			t.Fatalf("%s bundle missing per-collection identifier constraint", name)
		}
	}
}
