package rchanges

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/go-sql-driver/mysql"
	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
)

// Execer is the subset of *sql.DB which Table uses.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Table inserts events into a table with the columns (id, timestamp, wiki,
// type, byte_delta).
type Table struct {
	db     Execer
	insert string
}

// NewTable gets a Table writing to the table called name through db. name is
// quoted but not otherwise checked.
func NewTable(db Execer, name string) *Table {
	return &Table{
		db:     db,
		insert: "INSERT INTO `" + name + "` (id, timestamp, wiki, type, byte_delta) VALUES (?, ?, ?, ?, ?)",
	}
}

// Insert writes one row for e.
func (t *Table) Insert(ctx context.Context, e Event) error {
	_, err := t.db.ExecContext(ctx, t.insert, e.Meta.ID, e.Timestamp, e.Wiki, e.Type, e.ByteDelta())
	return errors.Wrapf(err, "inserting %s", e.Meta.ID)
}

// DSN returns the go-sql-driver data source name for a TCP connection.
func DSN(user, password, host string, port int, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = dbname
	return cfg.FormatDSN()
}

type connectConfig struct {
	attempts uint
	delay    time.Duration
	poolSize int
	log      wikicounts.Logger
}

// ConnectOption is a functional option type for Connect.
type ConnectOption func(c *connectConfig)

// OptConnectAttempts sets how many times Connect tries to reach the
// database. The default is 5.
func OptConnectAttempts(n uint) ConnectOption {
	return func(c *connectConfig) {
		c.attempts = n
	}
}

// OptConnectDelay sets the delay before the first retry. It doubles with
// every attempt. The default is 2s, so 5 attempts give up after about a
// minute.
func OptConnectDelay(d time.Duration) ConnectOption {
	return func(c *connectConfig) {
		c.delay = d
	}
}

// OptConnectPoolSize sets the maximum number of open and idle connections.
func OptConnectPoolSize(n int) ConnectOption {
	return func(c *connectConfig) {
		c.poolSize = n
	}
}

// OptConnectLogger sets the Logger which reports failed attempts.
func OptConnectLogger(l wikicounts.Logger) ConnectOption {
	return func(c *connectConfig) {
		c.log = l
	}
}

// Connect opens a MySQL connection pool for dsn and pings it, retrying with
// exponential backoff while the database is unreachable. A malformed dsn or
// a canceled ctx is not retried.
func Connect(ctx context.Context, dsn string, opts ...ConnectOption) (*sql.DB, error) {
	conf := &connectConfig{
		attempts: 5,
		delay:    2 * time.Second,
		poolSize: 8,
		log:      wikicounts.NopLogger{},
	}
	for _, opt := range opts {
		opt(conf)
	}

	var db *sql.DB
	err := retry.Do(
		func() error {
			d, err := sql.Open("mysql", dsn)
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "opening db"))
			}
			if err := d.PingContext(ctx); err != nil {
				d.Close()
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return errors.Wrap(err, "pinging db")
			}
			d.SetConnMaxIdleTime(512 * time.Second)
			d.SetConnMaxLifetime(512 * time.Second)
			d.SetMaxIdleConns(conf.poolSize)
			d.SetMaxOpenConns(conf.poolSize)
			db = d
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(conf.attempts),
		retry.Delay(conf.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			conf.log.Printf("connecting to db, attempt %d: %v", n+1, err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return db, nil
}
