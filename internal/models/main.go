// Package models defines the core data structures for login records,
// match queries and modifications.
package models

// Field names one attribute of a Login. The string value is the name the
// host uses for the attribute.
type Field string

const (
	// Username is the account name.
	Username Field = "username"
	// Password is the secret; it is always stored on the blob's first line.
	Password Field = "password"
	// Hostname is the origin the login belongs to.
	Hostname Field = "hostname"
	// FormSubmitURL is the action origin of an HTML form login.
	FormSubmitURL Field = "formSubmitURL"
	// HTTPRealm is the realm of an HTTP authentication login.
	HTTPRealm Field = "httpRealm"
	// UsernameField is the name of the form's username input.
	UsernameField Field = "usernameField"
	// PasswordField is the name of the form's password input.
	PasswordField Field = "passwordField"
)

// Fields lists every Field in declared order.
var Fields = []Field{Username, Password, Hostname, FormSubmitURL, HTTPRealm, UsernameField, PasswordField}

// Valid reports whether f is one of the declared fields.
func (f Field) Valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// Login is a single stored credential.
//
// FormSubmitURL and HTTPRealm are nullable: nil means absent, a pointer to
// "" is the empty-string wildcard. The two are distinct while matching.
type Login struct {
	Hostname      string  `json:"hostname"`
	FormSubmitURL *string `json:"formSubmitURL"`
	HTTPRealm     *string `json:"httpRealm"`
	Username      string  `json:"username"`
	Password      string  `json:"password"`
	UsernameField string  `json:"usernameField"`
	PasswordField string  `json:"passwordField"`
}

// String returns a pointer to s. Handy for nullable fields.
func String(s string) *string {
	return &s
}

// Clone returns a deep copy of l.
func (l Login) Clone() Login {
	c := l
	if l.FormSubmitURL != nil {
		c.FormSubmitURL = String(*l.FormSubmitURL)
	}
	if l.HTTPRealm != nil {
		c.HTTPRealm = String(*l.HTTPRealm)
	}
	return c
}

// Value returns the value of field f, or nil when the field is absent.
// Plain string fields are never absent.
func (l Login) Value(f Field) *string {
	switch f {
	case Username:
		return String(l.Username)
	case Password:
		return String(l.Password)
	case Hostname:
		return String(l.Hostname)
	case FormSubmitURL:
		if l.FormSubmitURL == nil {
			return nil
		}
		return String(*l.FormSubmitURL)
	case HTTPRealm:
		if l.HTTPRealm == nil {
			return nil
		}
		return String(*l.HTTPRealm)
	case UsernameField:
		return String(l.UsernameField)
	case PasswordField:
		return String(l.PasswordField)
	}
	return nil
}

// Text returns the value of field f with absent mapped to "".
func (l Login) Text(f Field) string {
	if v := l.Value(f); v != nil {
		return *v
	}
	return ""
}

// Set assigns v to field f. A nil v clears plain fields to "" and makes
// nullable fields absent.
func (l *Login) Set(f Field, v *string) {
	s := ""
	if v != nil {
		s = *v
	}
	switch f {
	case Username:
		l.Username = s
	case Password:
		l.Password = s
	case Hostname:
		l.Hostname = s
	case FormSubmitURL:
		l.FormSubmitURL = copyString(v)
	case HTTPRealm:
		l.HTTPRealm = copyString(v)
	case UsernameField:
		l.UsernameField = s
	case PasswordField:
		l.PasswordField = s
	}
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	return String(*v)
}

// MatchData is a login query. A present key means the field is supplied;
// a nil value means the record's field must be absent.
type MatchData map[Field]*string

// Has reports whether the query supplies field f.
func (m MatchData) Has(f Field) bool {
	_, ok := m[f]
	return ok
}

// Text returns the supplied value for f with absent mapped to "".
func (m MatchData) Text(f Field) string {
	if v := m[f]; v != nil {
		return *v
	}
	return ""
}

// MatchAll builds a query that supplies every field of l.
func MatchAll(l Login) MatchData {
	md := make(MatchData, len(Fields))
	for _, f := range Fields {
		md[f] = l.Value(f)
	}
	return md
}

// ChangeKind selects how a Change is applied.
type ChangeKind int

const (
	// ChangeSet carries only the fields to change.
	ChangeSet ChangeKind = iota
	// FullRecord carries a complete replacement record.
	FullRecord
)

// Change describes a modification of stored logins.
type Change struct {
	Kind ChangeKind
	// Fields holds the sparse changes when Kind is ChangeSet.
	Fields map[Field]*string
	// Record holds the replacement when Kind is FullRecord.
	Record Login
}

// Changes builds a sparse ChangeSet.
func Changes(fields map[Field]*string) Change {
	return Change{Kind: ChangeSet, Fields: fields}
}

// Replace builds a FullRecord change.
func Replace(l Login) Change {
	return Change{Kind: FullRecord, Record: l}
}

// Apply returns base with the change applied and whether anything changed.
//
// A ChangeSet assigns every valid field it carries whose value differs. A
// FullRecord copies each non-empty field of the replacement that differs;
// empty fields of the replacement leave base untouched.
func (c Change) Apply(base Login) (Login, bool) {
	out := base.Clone()
	changed := false
	switch c.Kind {
	case ChangeSet:
		for _, f := range Fields {
			v, ok := c.Fields[f]
			if !ok || sameValue(out.Value(f), v) {
				continue
			}
			out.Set(f, v)
			changed = true
		}
	case FullRecord:
		for _, f := range Fields {
			v := c.Record.Value(f)
			if v == nil || *v == "" || sameValue(out.Value(f), v) {
				continue
			}
			out.Set(f, v)
			changed = true
		}
	}
	return out, changed
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
