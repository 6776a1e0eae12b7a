// Package matcher decides which stored logins answer a query and, in fuzzy
// mode, fills in fields that stored entries commonly lack.
package matcher

import (
	"regexp"

	"github.com/atinyakov/passkeeper/internal/models"
	"github.com/atinyakov/passkeeper/internal/paths"
)

// Autocomplete fills in fields of login from the query and the entry's
// store path. login is modified in place; pass a copy.
//
// The hostname is reduced to scheme://host[:port], taken from the query
// when missing, or rebuilt from the first path segment below realm. A
// record with neither submit URL nor HTTP realm is treated as an HTML form
// login when the query does not say otherwise, and inherits both fields
// from the query when it does.
func Autocomplete(login *models.Login, query models.MatchData, path, realm string) {
	switch {
	case login.Hostname != "":
		login.Hostname = paths.SanitizeURL(login.Hostname)
	case query.Text(models.Hostname) != "":
		login.Hostname = query.Text(models.Hostname)
	default:
		login.Hostname = hostnameFromPath(path, realm)
	}

	switch {
	case nonEmpty(login.FormSubmitURL):
		login.FormSubmitURL = models.String(paths.SanitizeURL(*login.FormSubmitURL))
	case !nonEmpty(login.HTTPRealm):
		if !nonEmpty(query[models.FormSubmitURL]) && !nonEmpty(query[models.HTTPRealm]) {
			login.FormSubmitURL = models.String("")
		} else {
			login.Set(models.FormSubmitURL, query[models.FormSubmitURL])
			login.Set(models.HTTPRealm, query[models.HTTPRealm])
		}
	}

	if login.UsernameField == "" {
		login.UsernameField = query.Text(models.UsernameField)
	}
	if login.PasswordField == "" {
		login.PasswordField = query.Text(models.PasswordField)
	}
}

func hostnameFromPath(path, realm string) string {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(realm) + "/([^/]+)")
	if m := re.FindStringSubmatch(path); m != nil {
		return "https://" + m[1]
	}
	return "unknown"
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// Matches reports whether login satisfies every field the query supplies.
// A nil query value only matches an absent field. In fuzzy mode an empty
// submit URL or HTTP realm in the query matches any value.
func Matches(login models.Login, query models.MatchData, fuzzy bool) bool {
	for f, want := range query {
		if !f.Valid() {
			continue
		}
		if fuzzy && (f == models.FormSubmitURL || f == models.HTTPRealm) && want != nil && *want == "" {
			continue
		}
		got := login.Value(f)
		if (got == nil) != (want == nil) {
			return false
		}
		if got != nil && *got != *want {
			return false
		}
	}
	return true
}

// Loader returns the login stored at path.
type Loader func(path string) (models.Login, bool)

// Matcher filters loaded entries against queries.
type Matcher struct {
	realm string
	fuzzy bool
}

// New returns a Matcher for entries under realm.
func New(realm string, fuzzy bool) *Matcher {
	return &Matcher{realm: realm, fuzzy: fuzzy}
}

// Fuzzy reports whether the matcher autocompletes entries.
func (m *Matcher) Fuzzy() bool { return m.fuzzy }

// Filter loads every path and keeps the logins matching query. The two
// returned slices are index-aligned and keep the order of candidates.
func (m *Matcher) Filter(candidates []string, query models.MatchData, load Loader) ([]models.Login, []string) {
	var (
		logins []models.Login
		found  []string
	)
	for _, p := range candidates {
		login, ok := load(p)
		if !ok {
			continue
		}
		if m.fuzzy {
			Autocomplete(&login, query, p, m.realm)
		}
		if Matches(login, query, m.fuzzy) {
			logins = append(logins, login)
			found = append(found, p)
		}
	}
	return logins, found
}
