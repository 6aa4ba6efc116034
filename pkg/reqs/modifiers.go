package reqs

import (
	"regexp"
	"strings"
)

// Requisite values carry encoded modifiers as substrings of val. They are
// order-independent and never nested.
var (
	aliasRe   = regexp.MustCompile(`:ALIAS=(\w+):`)
	notNullRe = regexp.MustCompile(`:!NULL:`)
	multiRe   = regexp.MustCompile(`:MULTI:`)
)

type Modifiers struct {
	Name    string // val with every modifier stripped
	Alias   string
	NotNull bool
	Multi   bool
}

// ParseModifiers extracts the modifier substrings from a requisite value.
func ParseModifiers(val string) Modifiers {
	m := Modifiers{}
	if am := aliasRe.FindStringSubmatch(val); am != nil {
		m.Alias = am[1]
	}
	m.NotNull = notNullRe.MatchString(val)
	m.Multi = multiRe.MatchString(val)
	name := aliasRe.ReplaceAllString(val, "")
	name = notNullRe.ReplaceAllString(name, "")
	name = multiRe.ReplaceAllString(name, "")
	m.Name = strings.TrimSpace(name)
	return m
}

// FormatModifiers rebuilds a requisite value from its parts in canonical
// order (alias, not-null, multi appended after the name).
func FormatModifiers(m Modifiers) string {
	var b strings.Builder
	b.WriteString(m.Name)
	if m.Alias != "" {
		b.WriteString(":ALIAS=" + m.Alias + ":")
	}
	if m.NotNull {
		b.WriteString(":!NULL:")
	}
	if m.Multi {
		b.WriteString(":MULTI:")
	}
	return b.String()
}
