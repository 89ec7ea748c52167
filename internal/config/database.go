// internal/config/database.go
package config

import (
	"fmt"
	"strings"
)

const applicationName = "serialkey-backend"

// DSN renders the key/value connection string understood by lib/pq.
func (d *DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + d.Host,
		"port=" + d.Port,
		"user=" + d.User,
		"password=" + d.Password,
		"dbname=" + d.Database,
		"sslmode=" + d.SSLMode,
	}
	if d.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", d.ConnectTimeout))
	}
	parts = append(parts, "application_name="+applicationName)
	return strings.Join(parts, " ")
}
