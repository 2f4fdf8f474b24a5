package rchanges

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
	sse "github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// DefaultStreamURL is Wikimedia's public recent changes stream.
const DefaultStreamURL = "https://stream.wikimedia.org/v2/stream/recentchange"

// Inserter stores events. Table is the production implementation.
type Inserter interface {
	Insert(ctx context.Context, e Event) error
}

// Listener subscribes to a recent changes stream and hands each event to one
// of several concurrent writers.
type Listener struct {
	url     string
	stream  string
	table   Inserter
	writers int
	refresh time.Duration
	client  *http.Client
	log     wikicounts.Logger
	stats   wikicounts.Statter
}

// ListenerOption is a functional option type for Listener.
type ListenerOption func(l *Listener)

// OptListenerStream sets the stream name sent with the subscription. The
// default is "messages".
func OptListenerStream(stream string) ListenerOption {
	return func(l *Listener) {
		l.stream = stream
	}
}

// OptListenerWriters sets the number of concurrent writers. The default is 8.
func OptListenerWriters(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.writers = n
		}
	}
}

// OptListenerRefresh sets how long a subscription is held before it is torn
// down and reopened. Upstream drops connections after about 15 minutes
// without always closing them cleanly. The default is 20 minutes.
func OptListenerRefresh(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.refresh = d
		}
	}
}

// OptListenerClient sets the HTTP client used for the subscription.
func OptListenerClient(c *http.Client) ListenerOption {
	return func(l *Listener) {
		l.client = c
	}
}

// OptListenerLogger sets the Logger for a Listener.
func OptListenerLogger(lg wikicounts.Logger) ListenerOption {
	return func(l *Listener) {
		l.log = lg
	}
}

// OptListenerStatter sets the Statter for a Listener.
func OptListenerStatter(s wikicounts.Statter) ListenerOption {
	return func(l *Listener) {
		l.stats = s
	}
}

// NewListener gets a Listener which stores the events of the stream at url
// in table.
func NewListener(url string, table Inserter, opts ...ListenerOption) *Listener {
	l := &Listener{
		url:     url,
		stream:  "messages",
		table:   table,
		writers: 8,
		refresh: 20 * time.Minute,
		log:     wikicounts.NopLogger{},
		stats:   wikicounts.NopStatter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run consumes the stream until ctx is done, resubscribing every refresh
// period. The same client is used throughout so that each subscription
// resumes from the last event id seen. Events which can't be decoded or
// inserted are logged and skipped. Run returns nil once ctx is done, or the
// error which stopped a subscription from being reopened.
func (l *Listener) Run(ctx context.Context) error {
	client := sse.NewClient(l.url)
	if l.client != nil {
		client.Connection = l.client
	}
	client.Headers["User-Agent"] = "wikicounts-rclistener"

	msgs := make(chan *sse.Event, l.writers)
	var wg sync.WaitGroup
	for i := 0; i < l.writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.write(ctx, msgs)
		}()
	}

	var err error
	for ctx.Err() == nil {
		if err = l.subscribe(ctx, client, msgs); err != nil {
			break
		}
	}
	close(msgs)
	wg.Wait()
	return err
}

func (l *Listener) subscribe(ctx context.Context, client *sse.Client, msgs chan<- *sse.Event) error {
	sctx, cancel := context.WithTimeout(ctx, l.refresh)
	defer cancel()
	// Reconnects within a subscription stop with it.
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	client.ReconnectStrategy = backoff.WithContext(b, sctx)
	client.ReconnectNotify = func(err error, d time.Duration) {
		l.log.Printf("reconnecting to %s in %v: %v", l.url, d, err)
	}
	l.log.Printf("subscribing to %s", l.url)
	l.stats.Count("rchanges.subscriptions", 1, 1)
	err := client.SubscribeWithContext(sctx, l.stream, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		select {
		case msgs <- msg:
		case <-sctx.Done():
		}
	})
	if sctx.Err() != nil || err == nil {
		return nil
	}
	return errors.Wrapf(err, "subscribing to %s", l.url)
}

func (l *Listener) write(ctx context.Context, msgs <-chan *sse.Event) {
	for msg := range msgs {
		e, err := Decode(msg.Data)
		if err != nil {
			l.stats.Count("rchanges.malformed", 1, 1)
			l.log.Debugf("skipping event %s: %v", msg.ID, err)
			continue
		}
		start := time.Now()
		if err := l.table.Insert(ctx, e); err != nil {
			l.stats.Count("rchanges.insert_errors", 1, 1)
			l.log.Printf("%v", err)
			continue
		}
		l.stats.Count("rchanges.inserted", 1, 1)
		l.stats.Timing("rchanges.insert", time.Since(start), 1)
	}
}
