package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestResolveContextAbsent(t *testing.T) {
	t.Parallel()
	acc := &Accessor{DB: &fakeDB{}}
	oc, err := acc.ResolveContext(context.Background(), "mydb", 12)
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if oc != nil {
		t.Fatalf("expected nil context, got %+v", oc)
	}
}

func TestResolveContextScan(t *testing.T) {
	t.Parallel()
	db := &fakeDB{queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
		// t, val, up, parent t, parent up, type-row up
		return fakeRow{values: []any{int64(40), "123", int64(7), int64(41), int64(1), int64(39)}}
	}}
	acc := &Accessor{DB: db}
	oc, err := acc.ResolveContext(context.Background(), "mydb", 12)
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if oc.Type != 40 || oc.Val != "123" || oc.ParentID != 7 || oc.ParentType != 41 || oc.ParentUp != 1 || oc.TypeUp != 39 {
		t.Fatalf("context = %+v", oc)
	}
}

func TestResolveKind(t *testing.T) {
	t.Parallel()
	byID := map[int64]Row{
		1:   {ID: 1, Up: 0, T: 1, Val: "root"},
		40:  {ID: 40, Up: 0, T: 2, Val: "Company"},
		41:  {ID: 41, Up: 40, T: 2, Val: "Name"},
		100: {ID: 100, Up: 1, T: 40, Val: "Acme"},
		101: {ID: 101, Up: 100, T: 41, Val: "Acme Inc"},
	}
	db := &fakeDB{queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
		id, _ := args[0].(int64)
		r, ok := byID[id]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{values: rowValues(r)}
	}}
	acc := &Accessor{DB: db}
	ctx := context.Background()

	tests := []struct {
		name string
		id   int64
		want Kind
	}{
		{name: "type_definition", id: 40, want: KindTypeDefinition},
		{name: "requisite", id: 41, want: KindRequisite},
		{name: "data_object", id: 100, want: KindDataObject},
		{name: "attribute_value", id: 101, want: KindAttributeValue},
	}
	for _, tt := range tests {
		row := byID[tt.id]
		got, err := acc.ResolveKind(ctx, "mydb", &row)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: kind = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	if KindTypeDefinition.String() != "type" || KindRequisite.String() != "requisite" ||
		KindAttributeValue.String() != "value" || KindDataObject.String() != "object" {
		t.Fatal("kind names")
	}
}
