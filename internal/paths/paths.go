// Package paths maps login hostnames onto password store paths and picks
// file names for new entries.
package paths

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	hostnameRe = regexp.MustCompile(`^.*://([^:/]+)(?:[:/].*)?$`)
	urlRe      = regexp.MustCompile(`^(.*://[^/]+)(?:/.*)?$`)
	unsafeRe   = regexp.MustCompile(`[^a-zA-Z0-9@._-]`)
	underRe    = regexp.MustCompile(`_+`)
	digitsRe   = regexp.MustCompile(`^[0-9]+$`)
)

// SanitizeHostname strips scheme, port, path and query from a URL:
// "https://host:8443/a?b" becomes "host". Values without "://" are
// returned unchanged, so the function is idempotent.
func SanitizeHostname(url string) string {
	return hostnameRe.ReplaceAllString(url, "$1")
}

// SanitizeURL strips path and query from a URL, keeping scheme, host and
// port: "https://host:8443/a?b" becomes "https://host:8443".
func SanitizeURL(url string) string {
	return urlRe.ReplaceAllString(url, "$1")
}

// Resolver computes store paths under a realm.
type Resolver struct {
	realm          string
	stripHostnames []string
}

// NewResolver returns a Resolver rooted at realm. stripHostnames lists
// subdomain prefixes (e.g. "www") that logins may also be saved without.
func NewResolver(realm string, stripHostnames []string) *Resolver {
	return &Resolver{realm: realm, stripHostnames: stripHostnames}
}

// Realm returns the root of every path the resolver produces.
func (r *Resolver) Realm() string {
	return r.realm
}

// HostnamePath returns "<realm>/<host>" for hostname, or the realm itself
// when hostname is empty.
func (r *Resolver) HostnamePath(hostname string) string {
	if hostname == "" {
		return r.realm
	}
	return r.realm + "/" + SanitizeHostname(hostname)
}

// HostnamePaths returns every path a login for hostname may live under.
// The variant with the first matching strip prefix removed comes before
// the primary path.
func (r *Resolver) HostnamePaths(hostname string) []string {
	if hostname == "" {
		return []string{r.realm}
	}
	host := SanitizeHostname(hostname)
	options := []string{r.realm + "/" + host}
	for _, sub := range r.stripHostnames {
		if sub != "" && strings.HasPrefix(host, sub+".") {
			options = append([]string{r.realm + "/" + host[len(sub)+1:]}, options...)
			break
		}
	}
	return options
}

// NamePolicy decides how new leaf names are numbered.
type NamePolicy int

const (
	// AlwaysNumbered appends a number to every name, starting at 1.
	AlwaysNumbered NamePolicy = iota
	// NumberOnCollision keeps the bare name until it is taken, then
	// continues with "_1", "_2", ...
	NumberOnCollision
)

// DefaultLeafBase is the file name used when entries are not grouped by
// username.
const DefaultLeafBase = "passmanager"

// LeafBase returns the file name base and numbering policy for a new
// entry. With groupByUsername set, the username is made path-safe and used
// as the base; otherwise, or if nothing safe remains, DefaultLeafBase is
// used and always numbered.
func LeafBase(username string, groupByUsername bool) (string, NamePolicy) {
	if groupByUsername {
		name := unsafeRe.ReplaceAllString(username, "_")
		name = underRe.ReplaceAllString(name, "_")
		name = strings.Trim(name, "_")
		if name != "" {
			return name, NumberOnCollision
		}
	}
	return DefaultLeafBase, AlwaysNumbered
}

// NextLeafName picks an unused leaf name for filenameBase among the
// entries directly under basePath. The result is one past the highest
// number in use, so gaps are never refilled.
func NextLeafName(existingPaths []string, basePath, filenameBase string, policy NamePolicy) string {
	sep, maxNum := "", 0
	if policy == NumberOnCollision {
		sep, maxNum = "_", -1
	}

	for _, p := range existingPaths {
		dir, leaf := path.Split(p)
		if strings.TrimSuffix(dir, "/") != basePath || !strings.HasPrefix(leaf, filenameBase) {
			continue
		}
		num := 0
		if rest := leaf[len(filenameBase):]; rest != "" {
			digits, ok := strings.CutPrefix(rest, sep)
			if !ok || !digitsRe.MatchString(digits) {
				continue
			}
			n, err := strconv.Atoi(digits)
			if err != nil {
				continue
			}
			num = n
		}
		if num > maxNum {
			maxNum = num
		}
	}

	if maxNum < 0 {
		return filenameBase
	}
	return filenameBase + sep + strconv.Itoa(maxNum+1)
}
