// Package datasource defines the datasource model and its pool properties.
// A datasource is one physical database endpoint plus the credentials and
// pooling policy used to reach it.
package datasource

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Supported driver names, as registered with database/sql.
const (
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverPostgres  = "postgres"
)

// PoolProperties controls how a pooled datasource hands out connections.
type PoolProperties struct {
	MaxActive                   int           `yaml:"max_active"`
	MaxIdle                     int           `yaml:"max_idle"`
	MaxCheckoutTime             time.Duration `yaml:"max_checkout_time"`
	TimeToWait                  time.Duration `yaml:"time_to_wait"`
	LocalBadConnectionTolerance int           `yaml:"local_bad_connection_tolerance"`
	PingEnabled                 bool          `yaml:"ping_enabled"`
	PingQuery                   string        `yaml:"ping_query"`
	PingIdleThreshold           time.Duration `yaml:"ping_idle_threshold"`
}

// DefaultPoolProperties returns the documented pool defaults.
func DefaultPoolProperties() PoolProperties {
	return PoolProperties{
		MaxActive:                   10,
		MaxIdle:                     5,
		MaxCheckoutTime:             20 * time.Second,
		TimeToWait:                  20 * time.Second,
		LocalBadConnectionTolerance: 3,
	}
}

// DataSource represents a logical datasource mapped to a single database instance.
type DataSource struct {
	ID         string            `yaml:"id"`
	Driver     string            `yaml:"driver"`
	DSN        string            `yaml:"dsn"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	Database   string            `yaml:"database"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	Params     map[string]string `yaml:"params"`
	AutoCommit bool              `yaml:"auto_commit"`
	Pool       PoolProperties    `yaml:"pool"`
}

// URL returns the driver specific connection string without credentials for
// sqlserver and postgres (credentials are injected by ConnString), or the raw
// DSN when one was configured.
func (d *DataSource) URL() string {
	if strings.TrimSpace(d.DSN) != "" {
		return d.DSN
	}
	switch d.Driver {
	case DriverSQLServer:
		u := url.URL{Scheme: "sqlserver", Host: d.Addr()}
		q := url.Values{}
		if d.Database != "" {
			q.Set("database", d.Database)
		}
		for k, v := range d.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u.String()
	case DriverPostgres:
		u := url.URL{Scheme: "postgres", Host: d.Addr(), Path: "/" + d.Database}
		q := url.Values{}
		for k, v := range d.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u.String()
	case DriverMySQL:
		dsn := fmt.Sprintf("tcp(%s)/%s", d.Addr(), url.PathEscape(d.Database))
		if p := d.sortedParams(); p != "" {
			dsn += "?" + p
		}
		return dsn
	}
	return ""
}

// ConnString returns the connection string for the given credentials.
// Credentials override the configured username/password when non-empty.
func (d *DataSource) ConnString(username, password string) string {
	if username == "" {
		username = d.Username
	}
	if password == "" {
		password = d.Password
	}
	if strings.TrimSpace(d.DSN) != "" {
		return d.DSN
	}
	base := d.URL()
	switch d.Driver {
	case DriverSQLServer, DriverPostgres:
		u, err := url.Parse(base)
		if err != nil {
			return base
		}
		if username != "" {
			u.User = url.UserPassword(username, password)
		}
		return u.String()
	case DriverMySQL:
		// mysql driver expects raw credentials
		if username == "" {
			return base
		}
		if password == "" {
			return username + "@" + base
		}
		return username + ":" + password + "@" + base
	}
	return base
}

// Addr returns the host:port address of the database instance.
func (d *DataSource) Addr() string {
	if d.Port == 0 {
		return d.Host
	}
	return d.Host + ":" + strconv.Itoa(d.Port)
}

func (d *DataSource) sortedParams() string {
	if len(d.Params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(d.Params[k]))
	}
	return strings.Join(parts, "&")
}

// TypeCode identifies a connection configuration. Connections opened under a
// different URL or credentials carry a different code and are never reused.
func TypeCode(url, username, password string) int64 {
	return int64(xxhash.Sum64String(url + "\x00" + username + "\x00" + password))
}
