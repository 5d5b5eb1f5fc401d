package store

import (
	"fmt"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/model"
)

// Table names, shared with the application that bulk-loads the data.
const (
	tableInventory    = "inventory_server"
	tableBC           = "businesscontinuity_server"
	tableServerUnique = "businesscontinuity_serverunique"
	tableAnnotation   = "inventory_serverannotation"
)

var inventoryColumns = []string{
	"SERVER_ID", "ENVIRONMENT", "LIVE_STATUS", "OSSHORTNAME", "OSFAMILY", "OSVERSION",
	"MACHINE_TYPE", "MANUFACTURER", "MODEL", "SERIAL_NUMBER", "COUNTRY", "REGION", "CITY",
	"DATACENTER", "INFRAVERSION", "IPADDRESS", "VLAN", "SNOW_STATUS", "SNOW_SUPPORTGROUP",
	"APP_AUID_VALUE", "APP_NAME_VALUE", "APP_SUPPORTGROUP_NAME", "TECHFAMILY", "IDRAC_NAME",
	"IDRAC_IP", "CPU_COUNT", "RAM_GB", "CLUSTER_NAME", "VIRTUALIZATION", "BACKUP_POLICY",
	"PAMELA_DATACENTER", "PAMELA_COUNTRY", "PAMELA_OSSHORTNAME", "LAST_SEEN",
}

var bcColumns = []string{
	"SERVER_ID", "ITCONTINUITY_LEVEL", "DAP_NAME", "DAP_AUID", "DATACENTER", "TECH_FAMILY",
	"MACHINE_TYPE", "VM_TYPE", "AFFINITY", "DATABASE_TECHNO", "DATABASE_DB_CI", "VITAL_LEVEL",
	"SUPPORT_GROUP",
}

var serverUniqueColumns = []string{
	"SERVER_ID", "priority_asset", "in_live_play", "action_during_lp",
	"original_action_during_lp", "cluster", "cluster_type",
}

// mainTable returns the server table of an index.
func mainTable(index model.Index) (string, error) {
	switch index {
	case model.IndexInventory:
		return tableInventory, nil
	case model.IndexBusinessContinuity:
		return tableBC, nil
	}
	return "", fmt.Errorf("unknown index %q", index)
}

func knownColumns(table string) []string {
	switch table {
	case tableInventory:
		return inventoryColumns
	case tableBC:
		return bcColumns
	case tableServerUnique:
		return serverUniqueColumns
	}
	return nil
}

// schema returns the DDL statements for the dialect. Server tables are
// wide rows of nullable text; the application never writes them except
// through the bulk loader (and tests).
func schema(d *dialect) []string {
	stmts := []string{
		serverTable(d, tableInventory, inventoryColumns),
		serverTable(d, tableBC, bcColumns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id %s,
    "SERVER_ID" TEXT NOT NULL UNIQUE,
    %s
)`, tableServerUnique, d.idColumn, textColumns(serverUniqueColumns[1:])),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id %s,
    "SERVER_ID" TEXT NOT NULL UNIQUE,
    notes      TEXT NOT NULL DEFAULT '',
    history    TEXT NOT NULL DEFAULT '[]',
    updated_at BIGINT NOT NULL DEFAULT 0
)`, tableAnnotation, d.idColumn),
		`CREATE INDEX IF NOT EXISTS idx_inventory_server_server_id ON inventory_server ("SERVER_ID")`,
		`CREATE INDEX IF NOT EXISTS idx_businesscontinuity_server_server_id ON businesscontinuity_server ("SERVER_ID")`,
	}
	return stmts
}

func serverTable(d *dialect, name string, columns []string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id %s,
    "SERVER_ID" TEXT NOT NULL,
    %s
)`, name, d.idColumn, textColumns(columns[1:]))
}

func textColumns(columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " TEXT"
	}
	return strings.Join(defs, ",\n    ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
