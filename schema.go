package wikicounts

import (
	"strconv"

	"github.com/pkg/errors"
)

// Type is the semantic type of a column.
type Type int

const (
	// String columns hold arbitrary UTF-8 text.
	String Type = iota
	// Int32 columns hold 32 bit signed integers.
	Int32
	// Int64 columns hold 64 bit signed integers.
	Int64
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Parse converts a raw field into a value of type t. An empty field is
// always nil.
func (t Type) Parse(field string) (interface{}, error) {
	if field == "" {
		return nil, nil
	}
	switch t {
	case String:
		return field, nil
	case Int32:
		v, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case Int64:
		return strconv.ParseInt(field, 10, 64)
	}
	return nil, errors.Errorf("unknown column type %d", t)
}

// Column describes a single field of a delimited archive line or of a
// normalized record.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// Reserved reports whether the column is a placeholder which upstream keeps
// for future use. Reserved columns are parsed but never written out.
func (c Column) Reserved() bool {
	return len(c.Name) > 0 && c.Name[0] == '_' && c.Name != "_date"
}

// Schema is a fixed, versioned list of columns.
type Schema struct {
	Version string
	Columns []Column
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// PagecountsSchema is the layout of the hourly pageviews dumps. See
// https://dumps.wikimedia.org/other/pageviews/readme.html
var PagecountsSchema = Schema{
	Version: "v1",
	Columns: []Column{
		{Name: "project_name", Type: String, Nullable: true},
		{Name: "article_name", Type: String, Nullable: true},
		{Name: "count", Type: Int32, Nullable: true},
		{Name: "_deprecated", Type: String, Nullable: true},
	},
}

// MediacountsSchema is the layout of the daily mediacounts dumps. The
// _rffu columns are reserved by upstream for future use.
var MediacountsSchema = Schema{
	Version: "v1",
	Columns: []Column{
		{Name: "filename", Type: String, Nullable: true},
		{Name: "total_response_bytes", Type: Int64, Nullable: true},
		{Name: "total_transfers_all", Type: Int32, Nullable: true},
		{Name: "total_transfers_restricted", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_audio", Type: Int32, Nullable: true},
		{Name: "_rffu_0", Type: String, Nullable: true},
		{Name: "_rffu_1", Type: String, Nullable: true},
		{Name: "total_transfers_transcoded_image", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_image_200", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_image_400", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_image_600", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_image_800", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_image_1000", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_image_large", Type: Int32, Nullable: true},
		{Name: "_rffu_2", Type: String, Nullable: true},
		{Name: "_rffu_3", Type: String, Nullable: true},
		{Name: "total_transfers_transcoded_mov", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_mov_240", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_mov_480", Type: Int32, Nullable: true},
		{Name: "total_transfers_transcoded_mov_large", Type: Int32, Nullable: true},
		{Name: "_rffu_4", Type: String, Nullable: true},
		{Name: "_rffu_5", Type: String, Nullable: true},
		{Name: "transfers_from_wmf_domain", Type: Int32, Nullable: true},
		{Name: "transfers_from_non_wmf_domain", Type: Int32, Nullable: true},
		{Name: "transfers_from_invalid_domain", Type: Int32, Nullable: true},
	},
}

// derivedColumns are filled in by the Normalizer rather than read from the
// archive.
var derivedColumns = map[string]Column{
	"id":                      {Name: "id", Type: String},
	"date":                    {Name: "date", Type: String},
	"_date":                   {Name: "_date", Type: String},
	"interval_start_unixtime": {Name: "interval_start_unixtime", Type: Int64},
}
