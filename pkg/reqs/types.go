package reqs

// Base type codes. These ids are part of the storage format and of every
// existing dump file; never renumber them. Any type id at or above
// BaseTypeMax refers to a row acting as a user-defined type.
const (
	TypeRoot       int64 = 1
	TypeChars      int64 = 2
	TypeNumber     int64 = 3
	TypeDate       int64 = 4
	TypeDatetime   int64 = 5
	TypeSigned     int64 = 6
	TypeBoolean    int64 = 7
	TypePassword   int64 = 8
	TypeToken      int64 = 9
	TypeXSRF       int64 = 10
	TypeUser       int64 = 11
	TypeRole       int64 = 12
	TypeRoleObject int64 = 13
	TypeLevel      int64 = 14
	TypeMask       int64 = 15
	TypeExport     int64 = 16
	TypeDelete     int64 = 17
	TypeRepCols    int64 = 18

	BaseTypeMax int64 = 32
)

var baseTypeNames = map[int64]string{
	TypeRoot:       "ROOT",
	TypeChars:      "CHARS",
	TypeNumber:     "NUMBER",
	TypeDate:       "DATE",
	TypeDatetime:   "DATETIME",
	TypeSigned:     "SIGNED",
	TypeBoolean:    "BOOLEAN",
	TypePassword:   "PASSWORD",
	TypeToken:      "TOKEN",
	TypeXSRF:       "XSRF",
	TypeUser:       "USER",
	TypeRole:       "ROLE",
	TypeRoleObject: "ROLE_OBJECT",
	TypeLevel:      "LEVEL",
	TypeMask:       "MASK",
	TypeExport:     "EXPORT",
	TypeDelete:     "DELETE",
	TypeRepCols:    "REP_COLS",
}

// IsBaseType reports whether t is a built-in type code rather than a row id.
func IsBaseType(t int64) bool {
	return t > 0 && t < BaseTypeMax
}

// BaseTypeName returns the fixed name of a base type code, or "" for row ids.
func BaseTypeName(t int64) string {
	return baseTypeNames[t]
}
