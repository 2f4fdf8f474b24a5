// Copyright 2021 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package kafka implements a wikicounts.Tracker which publishes milestones
// to a Kafka topic as Avro, optionally framed for the Confluent schema
// registry.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io/ioutil"
	"log"
	"time"

	"github.com/Shopify/sarama"
	"github.com/linkedin/goavro/v2"
	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
)

// MilestoneSchema is the Avro schema of published milestones.
const MilestoneSchema = `{
  "type": "record",
  "name": "Milestone",
  "namespace": "org.wikimedia.counts",
  "fields": [
    {"name": "job", "type": "string"},
    {"name": "archive", "type": "string"},
    {"name": "window", "type": "string"},
    {"name": "stage", "type": "string"},
    {"name": "uri", "type": "string"},
    {"name": "records", "type": "long"},
    {"name": "at", "type": {"type": "long", "logicalType": "timestamp-millis"}}
  ]
}`

// Tracker publishes each milestone as a message keyed by job name.
type Tracker struct {
	producer sarama.SyncProducer
	topic    string
	codec    *goavro.Codec
	schemaID int32
}

// TrackerOption is a functional option type for Tracker.
type TrackerOption func(t *Tracker)

// OptTrackerSchemaID frames every message with the Confluent wire format
// header: a zero magic byte followed by the registry's schema id.
func OptTrackerSchemaID(id int32) TrackerOption {
	return func(t *Tracker) {
		t.schemaID = id
	}
}

// NewTracker gets a Tracker which sends to topic with producer.
func NewTracker(producer sarama.SyncProducer, topic string, opts ...TrackerOption) (*Tracker, error) {
	codec, err := goavro.NewCodec(MilestoneSchema)
	if err != nil {
		return nil, errors.Wrap(err, "getting avro codec")
	}
	t := &Tracker{
		producer: producer,
		topic:    topic,
		codec:    codec,
		schemaID: -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Dial connects a synchronous producer to hosts and returns a Tracker using
// it. Each Commit waits for all in-sync replicas to acknowledge. tlsConfig
// may be nil for plaintext connections.
func Dial(hosts []string, topic string, tlsConfig *tls.Config, opts ...TrackerOption) (*Tracker, error) {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := sarama.NewConfig()
	config.Version = sarama.V0_10_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 0
	if tlsConfig != nil {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = tlsConfig
	}
	producer, err := sarama.NewSyncProducer(hosts, config)
	if err != nil {
		return nil, errors.Wrap(err, "getting new producer")
	}
	t, err := NewTracker(producer, topic, opts...)
	if err != nil {
		producer.Close()
		return nil, err
	}
	return t, nil
}

// Encode returns the message value for m.
func (t *Tracker) Encode(m wikicounts.Milestone) ([]byte, error) {
	var buf []byte
	if t.schemaID >= 0 {
		buf = make([]byte, 5)
		binary.BigEndian.PutUint32(buf[1:], uint32(t.schemaID))
	}
	buf, err := t.codec.BinaryFromNative(buf, map[string]interface{}{
		"job":     m.Job,
		"archive": m.Archive,
		"window":  m.Window,
		"stage":   string(m.Stage),
		"uri":     m.URI,
		"records": m.Records,
		"at":      m.At.UTC().Truncate(time.Millisecond),
	})
	return buf, errors.Wrap(err, "encoding milestone")
}

// Commit implements wikicounts.Tracker.
func (t *Tracker) Commit(ctx context.Context, m wikicounts.Milestone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := t.Encode(m)
	if err != nil {
		return err
	}
	_, _, err = t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(m.Job),
		Value: sarama.ByteEncoder(val),
	})
	return errors.Wrapf(err, "sending %s milestone to %s", m.Stage, t.topic)
}

// Close closes the underlying producer.
func (t *Tracker) Close() error {
	err := t.producer.Close()
	return errors.Wrap(err, "closing kafka producer")
}
