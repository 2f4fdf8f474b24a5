// Package rchanges streams Wikimedia's recent changes feed into a MySQL
// compatible table. The feed is a server-sent events stream of JSON
// documents following the /mediawiki/recentchange/1.0.0 schema; see
// https://wikitech.wikimedia.org/wiki/Event_Platform/EventStreams.
package rchanges

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Event holds the fields of a recent change which are stored.
type Event struct {
	Timestamp int64  `json:"timestamp"`
	Wiki      string `json:"wiki"`
	Type      string `json:"type"`
	Length    struct {
		Old int64 `json:"old"`
		New int64 `json:"new"`
	} `json:"length"`
	Meta struct {
		ID string `json:"id"`
	} `json:"meta"`
}

// ByteDelta is the change in page size in bytes. It is 0 for events, like
// log entries, which carry no length.
func (e Event) ByteDelta() int64 {
	return e.Length.New - e.Length.Old
}

// Decode parses the data of one stream message. Events without an id can't
// be stored and are rejected.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, errors.Wrap(err, "decoding recent change")
	}
	if e.Meta.ID == "" {
		return Event{}, errors.New("recent change has no meta.id")
	}
	return e, nil
}
