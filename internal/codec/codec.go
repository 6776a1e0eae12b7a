// Package codec converts login records to and from the line-oriented text
// blobs kept in the password store.
//
// The first line of a blob is always the password. Every other line has the
// form "label: value", where the label is looked up in a FieldMap.
package codec

import (
	"regexp"
	"strings"

	"github.com/atinyakov/passkeeper/internal/models"
)

var labelLine = regexp.MustCompile(`^([a-zA-Z]+):\s*(.*)$`)

// FieldLabels associates a field with its accepted labels. The first label
// is used when encoding.
type FieldLabels struct {
	Field  models.Field
	Labels []string
}

// FieldMap is an ordered, immutable association between login fields and
// blob labels. Fields that are not listed, or listed without labels, are
// never written as labeled lines.
type FieldMap struct {
	entries []FieldLabels
}

// DefaultLabels are the comma-separated alias lists used when no
// configuration overrides them.
var DefaultLabels = map[models.Field]string{
	models.Username:      "login,username,user",
	models.Hostname:      "url,hostname,host",
	models.FormSubmitURL: "formsubmiturl",
	models.HTTPRealm:     "httprealm",
	models.UsernameField: "usernamefield",
	models.PasswordField: "passwordfield",
}

// NewFieldMap builds a FieldMap from explicit entries. Labels are
// lowercased. Entries for the password field are ignored.
func NewFieldMap(entries ...FieldLabels) FieldMap {
	fm := FieldMap{}
	for _, e := range entries {
		if e.Field == models.Password {
			continue
		}
		labels := make([]string, 0, len(e.Labels))
		for _, l := range e.Labels {
			if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
				labels = append(labels, l)
			}
		}
		fm.entries = append(fm.entries, FieldLabels{Field: e.Field, Labels: labels})
	}
	return fm
}

// ParseFieldMap builds a FieldMap in declared field order from
// comma-separated alias lists. Fields missing from lists get no labels.
func ParseFieldMap(lists map[models.Field]string) FieldMap {
	entries := make([]FieldLabels, 0, len(models.Fields))
	for _, f := range models.Fields {
		if f == models.Password {
			continue
		}
		entries = append(entries, FieldLabels{Field: f, Labels: strings.Split(lists[f], ",")})
	}
	return NewFieldMap(entries...)
}

// DefaultFieldMap returns the FieldMap built from DefaultLabels.
func DefaultFieldMap() FieldMap {
	return ParseFieldMap(DefaultLabels)
}

// Labels returns the accepted labels of f, canonical label first.
func (fm FieldMap) Labels(f models.Field) []string {
	for _, e := range fm.entries {
		if e.Field == f {
			return append([]string(nil), e.Labels...)
		}
	}
	return nil
}

// Mapped reports whether f has at least one label.
func (fm FieldMap) Mapped(f models.Field) bool {
	return len(fm.Labels(f)) > 0
}

// Encode renders l as a text blob.
func (fm FieldMap) Encode(l models.Login) string {
	lines := []string{l.Password}
	for _, e := range fm.entries {
		if len(e.Labels) == 0 {
			continue
		}
		if v := l.Text(e.Field); v != "" {
			lines = append(lines, e.Labels[0]+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// Decode parses a text blob. Malformed lines are skipped; Decode never
// fails. Username and Hostname default to "", nullable fields stay absent
// unless a label supplies them.
func (fm FieldMap) Decode(text string) models.Login {
	lines := strings.Split(text, "\n")

	login := models.Login{Password: lines[0]}

	props := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		m := labelLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		props[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}

	for _, e := range fm.entries {
		for _, label := range e.Labels {
			if v := props[label]; v != "" {
				login.Set(e.Field, models.String(v))
				break
			}
		}
	}
	return login
}
