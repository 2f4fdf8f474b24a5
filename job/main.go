// Package job runs one ingest of one archive window, wiring the pipeline
// stages in package wikicounts to the storage, tracking, and stats backends
// chosen by configuration.
package job

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pilosa/wikicounts"
	"github.com/pilosa/wikicounts/aws/s3"
	"github.com/pilosa/wikicounts/boltdb"
	"github.com/pilosa/wikicounts/file"
	"github.com/pilosa/wikicounts/kafka"
	"github.com/pilosa/wikicounts/leveldb"
	"github.com/pilosa/wikicounts/prom"
	"github.com/pilosa/wikicounts/termstat"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go/parquet"
)

// Main contains the configuration for a single run. Its exported fields are
// turned into command line flags.
type Main struct {
	JobName       string   `help:"Name of this run, recorded with every milestone."`
	Dest          string   `help:"Destination root: a local directory or s3://bucket/prefix."`
	Reference     string   `help:"ISO-8601 timestamp with UTC offset to derive the window from. Defaults to now."`
	ArchiveURL    string   `help:"Root URL of the upstream dumps."`
	ScratchDir    string   `help:"Local directory for downloads and staged output. Defaults to the system temp directory."`
	FromLanding   bool     `help:"Replay the window from the archive already in the landing zone instead of fetching it."`
	Region        string   `help:"AWS region for s3:// destinations."`
	Endpoint      string   `help:"S3 compatible endpoint to use instead of AWS."`
	DedupDir      string   `help:"Deduplicate through a scratch leveldb below this directory instead of in memory."`
	TrackerPath   string   `help:"Record milestones in a boltdb file at this path."`
	KafkaHosts    []string `help:"Comma separated list of Kafka brokers to publish milestones to."`
	KafkaTopic    string   `help:"Kafka topic for milestones."`
	KafkaRegistry string   `help:"Confluent schema registry URL. Milestones are framed with the registered schema id."`
	KafkaCert     string   `help:"Path to a client certificate for Kafka TLS."`
	KafkaKey      string   `help:"Path to the key of the Kafka client certificate."`
	KafkaCA       string   `help:"Path to a CA certificate to verify Kafka brokers with."`
	KafkaInsecure bool     `help:"Use TLS for Kafka without verifying broker certificates."`
	PushGateway   string   `help:"Prometheus Pushgateway URL to push run metrics to."`
	ParquetCodec  string   `help:"Parquet compression codec: uncompressed, snappy, gzip, or zstd."`
	ParquetProcs  int      `help:"Number of goroutines encoding Parquet pages."`
	LogPath       string   `help:"Log to this file instead of stderr."`
	Verbose       bool     `help:"Enable debug logging and running stats on stderr."`

	archive *wikicounts.Archive
	now     func() time.Time
	client  *http.Client
	stderr  io.Writer

	log     *logrus.Entry
	stats   wikicounts.Statter
	store   wikicounts.Store
	tracker wikicounts.Tracker
	keys    wikicounts.KeySet
	ids     wikicounts.IDGenerator

	ref     time.Time
	codec   parquet.CompressionCodec
	closers []func() error
}

// NewMain gets a new Main for archive with the default configuration.
func NewMain(archive *wikicounts.Archive) *Main {
	return &Main{
		ArchiveURL:   wikicounts.DefaultArchiveURL,
		Region:       "us-east-1",
		KafkaTopic:   "wikicounts-milestones",
		ParquetCodec: "snappy",
		ParquetProcs: 4,

		archive: archive,
		now:     time.Now,
		client:  http.DefaultClient,
		stderr:  os.Stderr,
	}
}

// Run processes the window derived from the reference time: it lands the
// upstream archive, then parses, normalizes, and writes it to its date
// partition. Each of the two stages is committed to the trackers as it
// completes.
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

	start := time.Now()
	win := m.archive.Window(m.ref)
	log := m.log.WithField("window", win.String())
	log.Infof("processing %s", win.URL(m.ArchiveURL))

	var key string
	if m.FromLanding {
		key, err = m.landed(ctx, win)
		if err != nil {
			return err
		}
		log.Infof("replaying %s", m.store.URI(key))
	} else {
		fetcher := wikicounts.NewFetcher(m.store,
			wikicounts.OptFetcherBaseURL(m.ArchiveURL),
			wikicounts.OptFetcherClient(m.client),
			wikicounts.OptFetcherScratchDir(m.ScratchDir),
			wikicounts.OptFetcherLogger(log),
			wikicounts.OptFetcherStatter(m.stats),
		)
		key, err = fetcher.Fetch(ctx, win)
		if err != nil {
			return errors.Wrap(err, "landing archive")
		}
		if err := m.commit(ctx, win, wikicounts.StageLanded, m.store.URI(key), 0); err != nil {
			return err
		}
	}

	rc, err := m.store.Get(ctx, key)
	if err != nil {
		return &wikicounts.StorageError{Op: "reading landed archive", URI: m.store.URI(key), Err: err}
	}
	defer rc.Close()
	dr, err := m.archive.Decompress(rc)
	if err != nil {
		return errors.Wrapf(err, "decompressing %s", m.store.URI(key))
	}
	defer dr.Close()

	parser := wikicounts.NewArchiveParser(dr, m.archive,
		wikicounts.OptParserLogger(log),
		wikicounts.OptParserStatter(m.stats),
	)
	normalizer, err := wikicounts.NewNormalizer(win,
		wikicounts.OptNormalizerIDs(m.ids),
		wikicounts.OptNormalizerKeySet(m.keys),
		wikicounts.OptNormalizerLogger(log),
		wikicounts.OptNormalizerStatter(m.stats),
	)
	if err != nil {
		return errors.Wrap(err, "getting normalizer")
	}
	writer := wikicounts.NewWriter(m.store,
		wikicounts.OptWriterScratchDir(m.ScratchDir),
		wikicounts.OptWriterParallelism(int64(m.ParquetProcs)),
		wikicounts.OptWriterCompression(m.codec),
		wikicounts.OptWriterLogger(log),
		wikicounts.OptWriterStatter(m.stats),
	)
	n, err := writer.Write(ctx, win, normalizer.Source(parser))
	if err != nil {
		return errors.Wrap(err, "writing partition")
	}
	if err := m.commit(ctx, win, wikicounts.StageWritten, m.store.URI(win.OutputKey()), n); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"parsed":     parser.Records(),
		"malformed":  parser.Malformed(),
		"duplicates": normalizer.Duplicates(),
		"written":    n,
	}).Infof("done in %v", time.Since(start))
	return nil
}

// landed returns the landing key of win's archive, which a previous run must
// have stored.
func (m *Main) landed(ctx context.Context, win wikicounts.Window) (string, error) {
	key := win.LandingKey()
	keys, err := m.store.List(ctx, key)
	if err != nil {
		return "", &wikicounts.StorageError{Op: "listing landing zone", URI: m.store.URI(key), Err: err}
	}
	for _, k := range keys {
		if k == key {
			return key, nil
		}
	}
	return "", &wikicounts.StorageError{Op: "finding landed archive", URI: m.store.URI(key), Err: os.ErrNotExist}
}

func (m *Main) commit(ctx context.Context, win wikicounts.Window, stage wikicounts.Stage, uri string, records int64) error {
	err := m.tracker.Commit(ctx, wikicounts.Milestone{
		Job:     m.JobName,
		Archive: m.archive.Name,
		Window:  win.String(),
		Stage:   stage,
		URI:     uri,
		Records: records,
		At:      m.now().UTC(),
	})
	if err != nil {
		return errors.Wrapf(err, "committing %s milestone", stage)
	}
	m.log.WithField("stage", stage).Debugf("committed %s", uri)
	return nil
}

// validate checks everything which can be checked without touching the
// network or the filesystem.
func (m *Main) validate() error {
	if m.archive == nil {
		return &wikicounts.ParameterError{Param: "archive", Err: errors.New("no archive selected")}
	}
	if strings.TrimSpace(m.JobName) == "" {
		return &wikicounts.ParameterError{Param: "job-name", Err: errors.New("required")}
	}
	if strings.TrimSpace(m.Dest) == "" {
		return &wikicounts.ParameterError{Param: "dest", Err: errors.New("required")}
	}
	if len(m.KafkaHosts) > 0 && m.KafkaTopic == "" {
		return &wikicounts.ParameterError{Param: "kafka-topic", Err: errors.New("required with kafka-hosts")}
	}
	codec, ok := parquetCodecs[strings.ToLower(m.ParquetCodec)]
	if !ok {
		return &wikicounts.ParameterError{Param: "parquet-codec", Err: errors.Errorf("unsupported codec '%s'", m.ParquetCodec)}
	}
	m.codec = codec
	if m.ParquetProcs < 1 {
		return &wikicounts.ParameterError{Param: "parquet-procs", Err: errors.New("must be at least 1")}
	}
	if m.now == nil {
		m.now = time.Now
	}
	ref, err := wikicounts.ParseReference(m.Reference, m.now)
	if err != nil {
		return err
	}
	m.ref = ref
	return nil
}

// setup fills in every collaborator which was not injected. Anything it
// opens is closed by close, even if setup fails part way.
func (m *Main) setup(ctx context.Context) error {
	if m.client == nil {
		m.client = http.DefaultClient
	}
	if m.stderr == nil {
		m.stderr = os.Stderr
	}
	if m.log == nil {
		if err := m.setupLog(); err != nil {
			return err
		}
	}
	if m.stats == nil {
		m.setupStats()
	}
	if m.store == nil {
		store, err := OpenStore(m.Dest, m.Region, m.Endpoint)
		if err != nil {
			return err
		}
		m.store = store
	}
	if m.keys == nil {
		if m.DedupDir != "" {
			keys, err := leveldb.NewKeySet(m.DedupDir)
			if err != nil {
				return errors.Wrap(err, "opening key set")
			}
			m.keys = keys
		} else {
			m.keys = wikicounts.NewMapKeySet()
		}
		m.closers = append(m.closers, m.keys.Close)
	}
	if m.ids == nil {
		m.ids = wikicounts.UUIDGenerator{}
	}
	if m.tracker == nil {
		if err := m.setupTrackers(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Main) setupLog() error {
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
	m.log = logger.WithFields(logrus.Fields{
		"job":    m.JobName,
		"source": m.archive.Name,
	})
	return nil
}

func (m *Main) setupStats() {
	var stats wikicounts.Statters
	if m.Verbose {
		ts := termstat.NewCollector(m.stderr, 2*time.Second)
		stats = append(stats, ts)
		m.closers = append(m.closers, ts.Close)
	}
	if m.PushGateway != "" {
		ps := prom.NewStatter(map[string]string{"source": m.archive.Name})
		stats = append(stats, ps)
		m.closers = append(m.closers, func() error {
			grouping := map[string]string{"source": m.archive.Name, "job_name": m.JobName}
			return ps.Push(context.Background(), m.PushGateway, "wikicounts", grouping)
		})
	}
	switch len(stats) {
	case 0:
		m.stats = wikicounts.NopStatter{}
	case 1:
		m.stats = stats[0]
	default:
		m.stats = stats
	}
}

func (m *Main) setupTrackers(ctx context.Context) error {
	var trackers wikicounts.Trackers
	if m.TrackerPath != "" {
		bt, err := boltdb.NewTracker(m.TrackerPath)
		if err != nil {
			return errors.Wrap(err, "opening milestone db")
		}
		trackers = append(trackers, bt)
	}
	if len(m.KafkaHosts) > 0 {
		var opts []kafka.TrackerOption
		if m.KafkaRegistry != "" {
			id, err := kafka.Register(ctx, m.client, m.KafkaRegistry, m.KafkaTopic+"-value")
			if err != nil {
				trackers.Close()
				return errors.Wrap(err, "registering milestone schema")
			}
			opts = append(opts, kafka.OptTrackerSchemaID(id))
		}
		tlsConfig, err := kafka.GetTLSConfig(kafka.TLSConfig{
			CertificatePath:    m.KafkaCert,
			CertificateKeyPath: m.KafkaKey,
			CACertPath:         m.KafkaCA,
			SkipVerify:         m.KafkaInsecure,
		}, m.log)
		if err != nil {
			trackers.Close()
			return &wikicounts.ParameterError{Param: "kafka-cert", Err: err}
		}
		kt, err := kafka.Dial(m.KafkaHosts, m.KafkaTopic, tlsConfig, opts...)
		if err != nil {
			trackers.Close()
			return errors.Wrap(err, "connecting to kafka")
		}
		trackers = append(trackers, kt)
	}
	switch len(trackers) {
	case 0:
		m.tracker = wikicounts.NopTracker{}
	case 1:
		m.tracker = trackers[0]
	default:
		m.tracker = trackers
	}
	m.closers = append(m.closers, m.tracker.Close)
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

var parquetCodecs = map[string]parquet.CompressionCodec{
	"uncompressed": parquet.CompressionCodec_UNCOMPRESSED,
	"snappy":       parquet.CompressionCodec_SNAPPY,
	"gzip":         parquet.CompressionCodec_GZIP,
	"zstd":         parquet.CompressionCodec_ZSTD,
}

// OpenStore returns the Store for a destination root, which is either an
// s3://bucket/prefix URI or a local directory (optionally as a file:// URI).
func OpenStore(dest, region, endpoint string) (wikicounts.Store, error) {
	switch {
	case strings.HasPrefix(dest, "s3://"):
		bucket, prefix, err := s3.ParseURI(dest)
		if err != nil {
			return nil, &wikicounts.ParameterError{Param: "dest", Err: err}
		}
		var opts []s3.StoreOption
		if region != "" {
			opts = append(opts, s3.OptStoreRegion(region))
		}
		if endpoint != "" {
			opts = append(opts, s3.OptStoreEndpoint(endpoint))
		}
		store, err := s3.NewStore(bucket, prefix, opts...)
		if err != nil {
			return nil, &wikicounts.StorageError{Op: "opening store", URI: dest, Err: err}
		}
		return store, nil
	case strings.HasPrefix(dest, "file://"):
		dest = strings.TrimPrefix(dest, "file://")
	case strings.Contains(dest, "://"):
		return nil, &wikicounts.ParameterError{Param: "dest", Err: errors.Errorf("unsupported destination '%s'", dest)}
	}
	store, err := file.NewStore(dest)
	if err != nil {
		return nil, &wikicounts.StorageError{Op: "opening store", URI: dest, Err: err}
	}
	return store, nil
}
