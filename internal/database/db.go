package database

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.  Pool sizing is
// env-tunable so a load test can raise it without a rebuild; the defaults
// suit one instance of the reservation server.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn(user, pass, host, port, name))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(poolSize("DB_MAX_OPEN_CONNS", 25))
	db.SetMaxIdleConns(poolSize("DB_MAX_IDLE_CONNS", 25))
	db.SetConnMaxLifetime(time.Duration(poolSize("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// dsn builds the connection string via the driver's own config type.
// ParseTime maps the DATETIME columns (expires_at, completed_at) onto
// time.Time, and Loc=UTC keeps those values comparable with the
// UTC_TIMESTAMP() guards the repositories write.
func dsn(user, pass, host, port, name string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func poolSize(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
