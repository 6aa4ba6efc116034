// Package dump implements the legacy backup text format and the CSV export.
//
// A backup is one physical line per row, fields delta-encoded against the
// previous line so that consecutive rows of one parent collapse to a few
// bytes. The format is a wire contract with existing .dmp files; every
// encoding rule here is load-bearing.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const bom = "\uFEFF"

// Escapes keeping one row on one physical line. Distinct from the CSV
// escaping scheme; the two are never mixed.
var (
	valEscaper   = strings.NewReplacer("\r", "&ritrr;", "\n", "&ritrn;")
	valUnescaper = strings.NewReplacer("&ritrr;", "\r", "&ritrn;", "\n")
)

// Record is one encoded table row.
type Record struct {
	ID  int64
	Up  int64
	Ord int64
	T   int64
	Val string
}

// Encoder writes the delta format. Rows must arrive in ascending id order,
// which is how the store pages them out.
type Encoder struct {
	w       *bufio.Writer
	started bool
	lastID  int64
	lastUp  int64
	lastT   int64
	hasLast bool
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) Write(r Record) error {
	if !e.started {
		if _, err := e.w.WriteString(bom); err != nil {
			return err
		}
		e.started = true
	}
	var b strings.Builder
	idPlusOne := e.hasLast && r.ID == e.lastID+1
	upSame := e.hasLast && r.Up == e.lastUp
	switch {
	case idPlusOne && upSame:
		// Combined shorthand: both id+1 and up unchanged.
		b.WriteByte('/')
	case idPlusOne:
		b.WriteByte(';')
		b.WriteString(strconv.FormatInt(r.Up, 36))
		b.WriteByte(';')
	default:
		delta := r.ID
		if e.hasLast {
			delta = r.ID - e.lastID
		}
		b.WriteString(strconv.FormatInt(delta, 36))
		b.WriteByte(';')
		if !upSame {
			b.WriteString(strconv.FormatInt(r.Up, 36))
		}
		b.WriteByte(';')
	}
	if !e.hasLast || r.T != e.lastT {
		b.WriteString(strconv.FormatInt(r.T, 36))
	}
	b.WriteByte(';')
	if r.Ord != 1 {
		b.WriteString(strconv.FormatInt(r.Ord, 10))
	}
	b.WriteByte(';')
	b.WriteString(valEscaper.Replace(r.Val))
	b.WriteByte('\n')
	if _, err := e.w.WriteString(b.String()); err != nil {
		return err
	}
	e.lastID, e.lastUp, e.lastT = r.ID, r.Up, r.T
	e.hasLast = true
	return nil
}

func (e *Encoder) Flush() error {
	if !e.started {
		// An empty dump still carries the BOM.
		if _, err := e.w.WriteString(bom); err != nil {
			return err
		}
		e.started = true
	}
	return e.w.Flush()
}

// Decoder replays the same three pieces of last-state the encoder tracked.
type Decoder struct {
	s       *bufio.Scanner
	lastID  int64
	lastUp  int64
	lastT   int64
	hasLast bool
	line    int
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{s: s}
}

// Next returns the following record, or io.EOF.
func (d *Decoder) Next() (Record, error) {
	for {
		if !d.s.Scan() {
			if err := d.s.Err(); err != nil {
				return Record{}, err
			}
			return Record{}, io.EOF
		}
		d.line++
		line := d.s.Text()
		if d.line == 1 {
			line = strings.TrimPrefix(line, bom)
			line = strings.TrimPrefix(line, "\xef\xbb\xbf")
		}
		if line == "" {
			continue
		}
		return d.parse(line)
	}
}

func (d *Decoder) parse(line string) (Record, error) {
	rec := Record{Ord: 1}
	rest := line
	if strings.HasPrefix(rest, "/") {
		if !d.hasLast {
			return Record{}, fmt.Errorf("dump: line %d: shorthand before any full row", d.line)
		}
		rec.ID = d.lastID + 1
		rec.Up = d.lastUp
		rest = rest[1:]
	} else {
		idPart, tail, ok := strings.Cut(rest, ";")
		if !ok {
			return Record{}, fmt.Errorf("dump: line %d: missing id separator", d.line)
		}
		if idPart == "" {
			if !d.hasLast {
				return Record{}, fmt.Errorf("dump: line %d: id delta before any full row", d.line)
			}
			rec.ID = d.lastID + 1
		} else {
			delta, err := strconv.ParseInt(idPart, 36, 64)
			if err != nil {
				return Record{}, fmt.Errorf("dump: line %d: bad id: %w", d.line, err)
			}
			rec.ID = d.lastID + delta
		}
		upPart, tail2, ok := strings.Cut(tail, ";")
		if !ok {
			return Record{}, fmt.Errorf("dump: line %d: missing up separator", d.line)
		}
		if upPart == "" {
			rec.Up = d.lastUp
		} else {
			up, err := strconv.ParseInt(upPart, 36, 64)
			if err != nil {
				return Record{}, fmt.Errorf("dump: line %d: bad up: %w", d.line, err)
			}
			rec.Up = up
		}
		rest = tail2
	}
	tPart, tail, ok := strings.Cut(rest, ";")
	if !ok {
		return Record{}, fmt.Errorf("dump: line %d: missing type separator", d.line)
	}
	if tPart == "" {
		if !d.hasLast {
			return Record{}, fmt.Errorf("dump: line %d: type delta before any full row", d.line)
		}
		rec.T = d.lastT
	} else {
		t, err := strconv.ParseInt(tPart, 36, 64)
		if err != nil {
			return Record{}, fmt.Errorf("dump: line %d: bad type: %w", d.line, err)
		}
		rec.T = t
	}
	ordPart, val, ok := strings.Cut(tail, ";")
	if !ok {
		return Record{}, fmt.Errorf("dump: line %d: missing ord separator", d.line)
	}
	if ordPart != "" {
		ord, err := strconv.ParseInt(ordPart, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("dump: line %d: bad ord: %w", d.line, err)
		}
		rec.Ord = ord
	}
	rec.Val = valUnescaper.Replace(val)
	d.lastID, d.lastUp, d.lastT = rec.ID, rec.Up, rec.T
	d.hasLast = true
	return rec, nil
}
