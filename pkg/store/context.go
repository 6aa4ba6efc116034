package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ObjectContext is the structural neighborhood of one row, resolved in a
// single query. The grant resolver walks it instead of issuing one query per
// ancestry step.
type ObjectContext struct {
	ID         int64
	Type       int64
	Val        string
	ParentID   int64
	ParentType int64
	ParentUp   int64
	// TypeUp is the parent of the row's type row (0 for base types and for
	// top-level type definitions). A TypeUp above the root sentinel means the
	// type is declared inline inside another type: an array sibling-group.
	TypeUp int64
}

// ResolveContext returns nil, nil when the row does not exist.
func (a *Accessor) ResolveContext(ctx context.Context, table string, id int64) (*ObjectContext, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT o.t, o.val, o.up,
		COALESCE(p.t, 0), COALESCE(p.up, 0), COALESCE(tr.up, 0)
		FROM %s o
		LEFT JOIN %s p ON p.id = o.up
		LEFT JOIN %s tr ON tr.id = o.t
		WHERE o.id = $1`, table, table, table)
	oc := ObjectContext{ID: id}
	err := a.DB.QueryRow(ctx, q, id).Scan(&oc.Type, &oc.Val, &oc.ParentID, &oc.ParentType, &oc.ParentUp, &oc.TypeUp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: resolve context in %s: %w", table, err)
	}
	return &oc, nil
}

// Kind classifies a row by its ancestry. It is computed, never stored: the
// schema has no discriminant column.
type Kind int

const (
	KindDataObject Kind = iota
	KindTypeDefinition
	KindRequisite
	KindAttributeValue
)

func (k Kind) String() string {
	switch k {
	case KindTypeDefinition:
		return "type"
	case KindRequisite:
		return "requisite"
	case KindAttributeValue:
		return "value"
	}
	return "object"
}

const kindWalkLimit = 64

// ResolveKind walks up from the row until the ancestry determines what it is.
func (a *Accessor) ResolveKind(ctx context.Context, table string, row *Row) (Kind, error) {
	return a.resolveKind(ctx, table, row, 0)
}

func (a *Accessor) resolveKind(ctx context.Context, table string, row *Row, depth int) (Kind, error) {
	if depth > kindWalkLimit {
		return KindDataObject, fmt.Errorf("store: ancestry loop at id %d in %s", row.ID, table)
	}
	if row.Up == 0 {
		return KindTypeDefinition, nil
	}
	if row.Up == 1 {
		// Children of the root sentinel are top-level data objects.
		return KindDataObject, nil
	}
	parent, err := a.GetByID(ctx, table, row.Up)
	if err != nil {
		return KindDataObject, err
	}
	if parent == nil {
		return KindDataObject, nil
	}
	if parent.Up == 0 {
		return KindRequisite, nil
	}
	parentKind, err := a.resolveKind(ctx, table, parent, depth+1)
	if err != nil {
		return KindDataObject, err
	}
	if parentKind == KindDataObject {
		return KindAttributeValue, nil
	}
	// Children of requisites and of attribute values are members of inline
	// array groups: data objects again.
	return KindDataObject, nil
}
