// Package models holds the wire shapes of the legacy protocol. Field names
// and JSON layouts are a compatibility contract with existing clients and
// must not drift.
package models

import (
	"fmt"
	"net/url"
	"regexp"
)

// dbNameRe is the only accepted database name format. The name doubles as
// the table name and the session cookie name, so the guard is load-bearing.
var dbNameRe = regexp.MustCompile(`(?i)^[a-z]\w{1,14}$`)

// ValidDBName reports whether name may address a database.
func ValidDBName(name string) bool {
	return dbNameRe.MatchString(name)
}

// Shape selects how a report is rendered. Flags are checked by presence,
// not value, in this fixed priority.
type Shape int

const (
	ShapeHTML Shape = iota // no API flag present
	ShapeJSON
	ShapeKV
	ShapeData
	ShapeCR
	ShapeHR
)

// ShapeFromQuery picks the response shape from the query flags.
func ShapeFromQuery(q url.Values) Shape {
	switch {
	case q.Has("JSON_KV"):
		return ShapeKV
	case q.Has("JSON_DATA"):
		return ShapeData
	case q.Has("JSON_CR"):
		return ShapeCR
	case q.Has("JSON_HR"):
		return ShapeHR
	case q.Has("JSON"):
		return ShapeJSON
	}
	return ShapeHTML
}

// API reports whether the shape belongs to the JSON protocol.
func (s Shape) API() bool { return s != ShapeHTML }

// Column describes one report column.
type Column struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   int64  `json:"type"`
	Format string `json:"format"`
}

// Report is the tabular result most data and schema actions produce.
// Values are kept in storage encoding; display encoding happens only for
// the HR shape.
type Report struct {
	Columns []Column
	Data    [][]string
}

// jsonReport is the default shape.
type jsonReport struct {
	Columns []Column   `json:"columns"`
	Data    [][]string `json:"data"`
	RowNum  int        `json:"rownum"`
}

// crReport indexes rows by their position as string keys.
type crReport struct {
	Columns    []string            `json:"columns"`
	Rows       map[string][]string `json:"rows"`
	TotalCount int                 `json:"totalCount"`
}

// JSON returns the default `{columns,data,rownum}` rendering.
func (r *Report) JSON() any {
	data := r.Data
	if data == nil {
		data = [][]string{}
	}
	return jsonReport{Columns: r.Columns, Data: data, RowNum: len(r.Data)}
}

// KV returns one object per row keyed by column name.
func (r *Report) KV() []map[string]string {
	out := make([]map[string]string, 0, len(r.Data))
	for _, row := range r.Data {
		m := make(map[string]string, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				m[c.Name] = row[i]
			} else {
				m[c.Name] = ""
			}
		}
		out = append(out, m)
	}
	return out
}

// First returns only the first row as a single object, or an empty object
// when the report has no rows.
func (r *Report) First() map[string]string {
	kv := r.KV()
	if len(kv) == 0 {
		return map[string]string{}
	}
	return kv[0]
}

// CR returns the `{columns,rows,totalCount}` rendering.
func (r *Report) CR() any {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	rows := make(map[string][]string, len(r.Data))
	for i, row := range r.Data {
		rows[fmt.Sprintf("%d", i)] = row
	}
	return crReport{Columns: names, Rows: rows, TotalCount: len(r.Data)}
}

// HR returns the KV rendering with every value passed through encode,
// which receives the column type.
func (r *Report) HR(encode func(t int64, val string) string) []map[string]string {
	out := make([]map[string]string, 0, len(r.Data))
	for _, row := range r.Data {
		m := make(map[string]string, len(r.Columns))
		for i, c := range r.Columns {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			m[c.Name] = encode(c.Type, v)
		}
		out = append(out, m)
	}
	return out
}

// Render maps the report to the value serialized for a shape. ShapeHTML is
// the caller's business.
func (r *Report) Render(s Shape, encode func(t int64, val string) string) any {
	switch s {
	case ShapeKV:
		return r.KV()
	case ShapeData:
		return r.First()
	case ShapeCR:
		return r.CR()
	case ShapeHR:
		return r.HR(encode)
	default:
		return r.JSON()
	}
}

// LoginResponse is returned by _login.
type LoginResponse struct {
	XSRF  string `json:"_xsrf"`
	Token string `json:"token"`
	ID    int64  `json:"id"`
	Msg   string `json:"msg"`
}

// WhoAmI is returned by _whoami.
type WhoAmI struct {
	ID   int64  `json:"id"`
	User string `json:"user"`
	Role int64  `json:"role"`
}

// APIError is the legacy error envelope: a one-element array.
type APIError []ErrorItem

type ErrorItem struct {
	Error string `json:"error"`
}

// NewAPIError wraps msg in the envelope clients unwrap with `[0].error`.
func NewAPIError(msg string) APIError {
	return APIError{{Error: msg}}
}

// OK is the bare success acknowledgement for mutating actions that return
// no report.
type OK struct {
	ID  int64  `json:"id,omitempty"`
	Msg string `json:"msg"`
}
