package dump

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"integram/pkg/reqs"
	"integram/pkg/store"
)

// CSVStore is the accessor slice the exporter pages through.
type CSVStore interface {
	ListTypeDefs(ctx context.Context, table string, t int64) ([]store.Row, error)
	ListChildren(ctx context.Context, table string, up int64, f store.Filter) ([]store.Row, error)
	ListByType(ctx context.Context, table string, t, afterID, limit int64) ([]store.Row, error)
	GetRequisiteByType(ctx context.Context, table string, up, t int64) (*store.Row, error)
}

// csvEscaper backslash-escapes separators instead of quoting; the legacy
// consumer splits on raw semicolons after unescaping.
var csvEscaper = strings.NewReplacer(";", `\;`, "\n", `\n`, "\r", `\r`)

// EscapeCSV applies the export escaping to one field.
func EscapeCSV(v string) string {
	return csvEscaper.Replace(v)
}

const missingValue = "--"

// DefaultCSVPage bounds how many objects are held at once.
const DefaultCSVPage int64 = 500000

// CSVFileName builds the conventional export name.
func CSVFileName(db string, typeID int64, now time.Time) string {
	scope := "all"
	if typeID != 0 {
		scope = fmt.Sprintf("%d", typeID)
	}
	return fmt.Sprintf("%s_%s_%d.csv", db, scope, now.Unix())
}

// WriteCSV exports one type (typeID != 0) or every type definition in turn.
// Blocks are separated by a blank line; the whole file carries one BOM.
func WriteCSV(ctx context.Context, s CSVStore, w io.Writer, table string, typeID int64, pageSize int64) error {
	if pageSize <= 0 {
		pageSize = DefaultCSVPage
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(bom); err != nil {
		return err
	}
	var typeRows []store.Row
	if typeID != 0 {
		all, err := s.ListTypeDefs(ctx, table, 0)
		if err != nil {
			return err
		}
		for _, tr := range all {
			if tr.ID == typeID {
				typeRows = append(typeRows, tr)
				break
			}
		}
		if len(typeRows) == 0 {
			return fmt.Errorf("dump: type %d not found in %s", typeID, table)
		}
	} else {
		all, err := s.ListTypeDefs(ctx, table, 0)
		if err != nil {
			return err
		}
		typeRows = all
	}
	for i, tr := range typeRows {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if err := writeTypeBlock(ctx, s, bw, table, tr, pageSize); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeTypeBlock(ctx context.Context, s CSVStore, bw *bufio.Writer, table string, typeRow store.Row, pageSize int64) error {
	requisites, err := s.ListChildren(ctx, table, typeRow.ID, store.Filter{})
	if err != nil {
		return err
	}
	header := make([]string, 0, len(requisites)+1)
	header = append(header, EscapeCSV(reqs.ParseModifiers(typeRow.Val).Name))
	for _, rq := range requisites {
		header = append(header, EscapeCSV(reqs.ParseModifiers(rq.Val).Name))
	}
	if _, err := bw.WriteString(strings.Join(header, ";") + "\n"); err != nil {
		return err
	}
	afterID := int64(0)
	for {
		objects, err := s.ListByType(ctx, table, typeRow.ID, afterID, pageSize)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			if obj.Up == 0 {
				// A type definition typed by another type is schema, not data.
				continue
			}
			line := make([]string, 0, len(requisites)+1)
			line = append(line, EscapeCSV(obj.Val))
			for _, rq := range requisites {
				v, err := s.GetRequisiteByType(ctx, table, obj.ID, rq.ID)
				if err != nil {
					return err
				}
				if v == nil || v.Val == "" {
					line = append(line, missingValue)
					continue
				}
				line = append(line, EscapeCSV(v.Val))
			}
			if _, err := bw.WriteString(strings.Join(line, ";") + "\n"); err != nil {
				return err
			}
		}
		if int64(len(objects)) < pageSize {
			return nil
		}
		afterID = objects[len(objects)-1].ID
	}
}
