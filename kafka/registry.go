package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// The Schema type is an object produced by the schema registry.
type Schema struct {
	Schema  string `json:"schema"`            // The actual AVRO schema
	Subject string `json:"subject,omitempty"` // Subject where the schema is registered for
	Version int    `json:"version,omitempty"` // Version within this subject
	ID      int    `json:"id,omitempty"`      // Registry's unique id
}

// Register registers MilestoneSchema under subject with the Confluent schema
// registry at registryURL and returns its id. Registering a schema the
// registry already has returns the existing id.
func Register(ctx context.Context, client *http.Client, registryURL, subject string) (int32, error) {
	body, err := json.Marshal(Schema{Schema: MilestoneSchema})
	if err != nil {
		return 0, errors.Wrap(err, "marshaling schema")
	}
	url := strings.TrimRight(registryURL, "/") + "/subjects/" + subject + "/versions"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	r, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return 0, errors.Wrap(err, "registering schema")
	}
	defer r.Body.Close()
	if r.StatusCode >= 300 {
		bod, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return 0, errors.Wrapf(err, "Failed to register schema, code: %d, no body", r.StatusCode)
		}
		return 0, errors.Errorf("Failed to register schema, code: %d, resp: %s", r.StatusCode, bod)
	}
	schema := &Schema{}
	if err := json.NewDecoder(r.Body).Decode(schema); err != nil {
		return 0, errors.Wrap(err, "decoding registry response")
	}
	return int32(schema.ID), nil
}
