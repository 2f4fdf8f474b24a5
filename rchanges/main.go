package rchanges

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pilosa/wikicounts"
	"github.com/pilosa/wikicounts/termstat"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Main contains the configuration of a listener. Its exported fields are
// turned into command line flags.
type Main struct {
	StreamURL       string        `help:"Server-sent events endpoint of the recent changes stream."`
	Stream          string        `help:"Stream name sent with the subscription."`
	DBHost          string        `help:"MySQL compatible database host."`
	DBPort          int           `help:"Database port."`
	DBUser          string        `help:"Database user."`
	DBPassword      string        `help:"Database password. Prefer WIKICOUNTS_DB_PASSWORD over the flag."`
	DBName          string        `help:"Database name."`
	Table           string        `help:"Table to insert recent changes into."`
	Writers         int           `help:"Number of concurrent database writers."`
	Refresh         time.Duration `help:"Reopen the subscription this often."`
	ConnectAttempts int           `help:"Attempts to reach the database before giving up."`
	LogPath         string        `help:"Log to this file instead of stderr."`
	Verbose         bool          `help:"Enable debug logging and running stats on stderr."`

	client *http.Client
	stderr io.Writer

	log     *logrus.Entry
	stats   wikicounts.Statter
	table   Inserter
	closers []func() error
}

// NewMain gets a new Main with the default configuration.
func NewMain() *Main {
	return &Main{
		StreamURL:       DefaultStreamURL,
		Stream:          "messages",
		DBHost:          "localhost",
		DBPort:          3306,
		DBUser:          "writer",
		DBName:          "wikipedia",
		Table:           "rchanges",
		Writers:         8,
		Refresh:         20 * time.Minute,
		ConnectAttempts: 5,

		client: http.DefaultClient,
		stderr: os.Stderr,
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Run connects to the database and stores recent changes until ctx is done.
// Being stopped through ctx is not an error.
func (m *Main) Run(ctx context.Context) (err error) {
	if err := m.validate(); err != nil {
		return err
	}
	defer func() {
		if cerr := m.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := m.setup(ctx); err != nil {
		return errors.Wrap(err, "setting up")
	}

	l := NewListener(m.StreamURL, m.table,
		OptListenerStream(m.Stream),
		OptListenerWriters(m.Writers),
		OptListenerRefresh(m.Refresh),
		OptListenerClient(m.client),
		OptListenerLogger(m.log),
		OptListenerStatter(m.stats),
	)
	start := time.Now()
	if err := l.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	m.log.Infof("stopped after %v", time.Since(start))
	return nil
}

func (m *Main) validate() error {
	u, err := url.Parse(m.StreamURL)
	if err != nil {
		return &wikicounts.ParameterError{Param: "stream-url", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &wikicounts.ParameterError{Param: "stream-url", Err: errors.Errorf("unsupported scheme '%s'", u.Scheme)}
	}
	if strings.TrimSpace(m.DBHost) == "" {
		return &wikicounts.ParameterError{Param: "db-host", Err: errors.New("required")}
	}
	if !identifier.MatchString(m.Table) {
		return &wikicounts.ParameterError{Param: "table", Err: errors.Errorf("'%s' is not a plain identifier", m.Table)}
	}
	if m.Writers < 1 {
		return &wikicounts.ParameterError{Param: "writers", Err: errors.New("must be at least 1")}
	}
	if m.Refresh <= 0 {
		return &wikicounts.ParameterError{Param: "refresh", Err: errors.New("must be positive")}
	}
	if m.ConnectAttempts < 1 {
		return &wikicounts.ParameterError{Param: "connect-attempts", Err: errors.New("must be at least 1")}
	}
	return nil
}

func (m *Main) setup(ctx context.Context) error {
	if m.client == nil {
		m.client = http.DefaultClient
	}
	if m.stderr == nil {
		m.stderr = os.Stderr
	}
	if m.log == nil {
		logger := logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.InfoLevel)
		if m.Verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
		logger.SetOutput(m.stderr)
		if m.LogPath != "" {
			f, err := os.OpenFile(m.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return &wikicounts.ParameterError{Param: "log-path", Err: err}
			}
			logger.SetOutput(f)
			m.closers = append(m.closers, f.Close)
		}
		m.log = logger.WithField("source", "rchanges")
	}
	if m.stats == nil {
		m.stats = wikicounts.NopStatter{}
		if m.Verbose {
			ts := termstat.NewCollector(m.stderr, 2*time.Second)
			m.stats = ts
			m.closers = append(m.closers, ts.Close)
		}
	}
	if m.table == nil {
		if err := mysql.SetLogger(m.log); err != nil {
			return errors.Wrap(err, "setting driver logger")
		}
		db, err := Connect(ctx, DSN(m.DBUser, m.DBPassword, m.DBHost, m.DBPort, m.DBName),
			OptConnectAttempts(uint(m.ConnectAttempts)),
			OptConnectPoolSize(m.Writers),
			OptConnectLogger(m.log),
		)
		if err != nil {
			return errors.Wrapf(err, "connecting to %s:%d", m.DBHost, m.DBPort)
		}
		m.closers = append(m.closers, db.Close)
		m.table = NewTable(db, m.Table)
	}
	m.log.WithFields(logrus.Fields{
		"stream":  m.StreamURL,
		"table":   m.Table,
		"writers": m.Writers,
	}).Info("listening")
	return nil
}

// close releases everything setup opened, most recent first.
func (m *Main) close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	m.closers = nil
	return first
}
