package reqs

import (
	"testing"
)

func TestDecodeDate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "iso_dash", in: "2024-03-07", want: "20240307"},
		{name: "iso_slash", in: "2024/3/7", want: "20240307"},
		{name: "iso_dot", in: "2024.03.07", want: "20240307"},
		{name: "dmy_full_year", in: "7/3/2024", want: "20240307"},
		{name: "dmy_short_year_2000s", in: "07/03/24", want: "20240307"},
		{name: "dmy_short_year_1900s", in: "07/03/87", want: "19870307"},
		{name: "garbage_passthrough", in: "not-a-date", want: "not-a-date"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Decode(TypeDate, tt.in, 0); got != tt.want {
				t.Fatalf("Decode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeDate(t *testing.T) {
	t.Parallel()
	if got := Encode(TypeDate, "20240307", 0); got != "07.03.2024" {
		t.Fatalf("Encode = %q", got)
	}
	// More than 8 digits means a timestamp stored into a DATE field.
	if got := Encode(TypeDate, "1700000000", 0); got != "14.11.2023 22:13" {
		t.Fatalf("Encode timestamp = %q", got)
	}
	if got := Encode(TypeDate, "xx", 0); got != "xx" {
		t.Fatalf("Encode passthrough = %q", got)
	}
}

func TestDateRoundTrip(t *testing.T) {
	t.Parallel()
	for _, stored := range []string{"20240307", "19991231", "20000101"} {
		display := Encode(TypeDate, stored, 0)
		if got := Decode(TypeDate, displayToInput(display), 0); got != stored {
			t.Fatalf("round trip %q -> %q -> %q", stored, display, got)
		}
	}
}

// Display form DD.MM.YYYY is not an accepted DATE input; users type it with
// slashes. Convert before feeding back.
func displayToInput(display string) string {
	out := []byte(display)
	for i := range out {
		if out[i] == '.' {
			out[i] = '/'
		}
	}
	return string(out)
}

func TestDatetime(t *testing.T) {
	t.Parallel()
	if got := Decode(TypeDatetime, "1700000000", 3600); got != "1699996400" {
		t.Fatalf("Decode timestamp = %q", got)
	}
	if got := Decode(TypeDatetime, "2023-11-14 22:13:20", 0); got != "1700000000" {
		t.Fatalf("Decode date string = %q", got)
	}
	if got := Encode(TypeDatetime, "1699996400", 3600); got != "14.11.2023 22:13" {
		t.Fatalf("Encode = %q", got)
	}
	if got := Encode(TypeDatetime, "soon", 0); got != "soon" {
		t.Fatalf("Encode passthrough = %q", got)
	}
}

func TestDecodeNumber(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "1,234,567", want: "1234567"},
		{in: "1 234", want: "1234"},
		{in: "42", want: "42"},
		{in: "0", want: "0"},     // zero means "no value": input untouched
		{in: "00", want: "00"},   // still zero, still untouched
		{in: "abc", want: "abc"}, // unparsable passthrough
	}
	for _, tt := range tests {
		if got := Decode(TypeNumber, tt.in, 0); got != tt.want {
			t.Fatalf("Decode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeSigned(t *testing.T) {
	t.Parallel()
	if got := Decode(TypeSigned, "-1 234.5", 0); got != "-1234.5" {
		t.Fatalf("Decode = %q", got)
	}
	if got := Decode(TypeSigned, "0.0", 0); got != "0.0" {
		t.Fatalf("Decode zero = %q", got)
	}
}

func TestBoolean(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "false", "-1", " "} {
		if got := Decode(TypeBoolean, in, 0); got != "" {
			t.Fatalf("Decode(%q) = %q, want empty", in, got)
		}
	}
	for _, in := range []string{"1", "true", "yes", "X"} {
		if got := Decode(TypeBoolean, in, 0); got != "1" {
			t.Fatalf("Decode(%q) = %q, want 1", in, got)
		}
	}
	if got := Encode(TypeBoolean, "1", 0); got != "X" {
		t.Fatalf("Encode(1) = %q", got)
	}
	if got := Encode(TypeBoolean, "", 0); got != "" {
		t.Fatalf("Encode(empty) = %q", got)
	}
}

func TestNullSentinel(t *testing.T) {
	t.Parallel()
	for _, typeID := range []int64{TypeChars, TypeNumber, TypeDate, TypeBoolean} {
		if got := Decode(typeID, "NULL", 0); got != "NULL" {
			t.Fatalf("Decode NULL for type %d = %q", typeID, got)
		}
		if got := Encode(typeID, "NULL", 0); got != "NULL" {
			t.Fatalf("Encode NULL for type %d = %q", typeID, got)
		}
	}
}

func TestUnknownTypePassthrough(t *testing.T) {
	t.Parallel()
	if got := Decode(4711, "anything", 0); got != "anything" {
		t.Fatalf("Decode = %q", got)
	}
	if got := Encode(4711, "anything", 0); got != "anything" {
		t.Fatalf("Encode = %q", got)
	}
}

func TestAlignment(t *testing.T) {
	t.Parallel()
	if Alignment(TypeNumber) != AlignRight || Alignment(TypeSigned) != AlignRight {
		t.Fatal("numbers align right")
	}
	if Alignment(TypeDate) != AlignCenter || Alignment(TypeBoolean) != AlignCenter {
		t.Fatal("dates and booleans align center")
	}
	if Alignment(TypeChars) != AlignLeft || Alignment(9999) != AlignLeft {
		t.Fatal("default aligns left")
	}
}

func TestParseModifiers(t *testing.T) {
	t.Parallel()
	m := ParseModifiers("Amount:ALIAS=amt2::!NULL::MULTI:")
	if m.Name != "Amount" || m.Alias != "amt2" || !m.NotNull || !m.Multi {
		t.Fatalf("unexpected modifiers: %+v", m)
	}
	// Order independence.
	m2 := ParseModifiers(":MULTI:Amount:!NULL::ALIAS=amt2:")
	if m2.Name != "Amount" || m2.Alias != "amt2" || !m2.NotNull || !m2.Multi {
		t.Fatalf("unexpected modifiers: %+v", m2)
	}
	plain := ParseModifiers("Title")
	if plain.Name != "Title" || plain.Alias != "" || plain.NotNull || plain.Multi {
		t.Fatalf("unexpected modifiers: %+v", plain)
	}
}

func TestFormatModifiers(t *testing.T) {
	t.Parallel()
	val := FormatModifiers(Modifiers{Name: "Amount", Alias: "amt", NotNull: true, Multi: true})
	if val != "Amount:ALIAS=amt::!NULL::MULTI:" {
		t.Fatalf("FormatModifiers = %q", val)
	}
	back := ParseModifiers(val)
	if back.Name != "Amount" || back.Alias != "amt" || !back.NotNull || !back.Multi {
		t.Fatalf("round trip lost modifiers: %+v", back)
	}
}

func TestBaseTypes(t *testing.T) {
	t.Parallel()
	if !IsBaseType(TypeChars) || IsBaseType(100) || IsBaseType(0) {
		t.Fatal("IsBaseType boundaries")
	}
	if BaseTypeName(TypeRoleObject) != "ROLE_OBJECT" {
		t.Fatalf("BaseTypeName = %q", BaseTypeName(TypeRoleObject))
	}
	if BaseTypeName(500) != "" {
		t.Fatal("row-id types have no base name")
	}
}
