package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atinyakov/passkeeper/internal/models"
)

// Clear is the answer that removes a nullable field while editing.
const Clear = "-"

// Prompter asks the user for records line by line.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(in), out: out}
}

// Ask prints question and returns the trimmed answer.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// PromptForLogin asks for every field of a new login. Leaving the submit
// URL and realm empty records them as absent.
func (p *Prompter) PromptForLogin() (models.Login, error) {
	var l models.Login
	questions := []struct {
		q   string
		dst *string
	}{
		{"Enter hostname (e.g. https://example.com): ", &l.Hostname},
		{"Enter username: ", &l.Username},
		{"Enter password: ", &l.Password},
	}
	for _, it := range questions {
		v, err := p.Ask(it.q)
		if err != nil {
			return models.Login{}, err
		}
		*it.dst = v
	}

	submit, err := p.Ask("Enter form submit URL (leave empty for none): ")
	if err != nil {
		return models.Login{}, err
	}
	if submit != "" {
		l.FormSubmitURL = models.String(submit)
		if l.UsernameField, err = p.Ask("Enter username field name: "); err != nil {
			return models.Login{}, err
		}
		if l.PasswordField, err = p.Ask("Enter password field name: "); err != nil {
			return models.Login{}, err
		}
		return l, nil
	}

	realm, err := p.Ask("Enter HTTP realm (leave empty for none): ")
	if err != nil {
		return models.Login{}, err
	}
	if realm != "" {
		l.HTTPRealm = models.String(realm)
	}
	return l, nil
}

// PromptForChanges asks for a new value of each field. An empty answer keeps
// the field; Clear removes the submit URL or realm.
func (p *Prompter) PromptForChanges() (map[models.Field]*string, error) {
	changes := map[models.Field]*string{}
	for _, f := range models.Fields {
		v, err := p.Ask(fmt.Sprintf("New %s (leave empty to keep): ", f))
		if err != nil {
			return nil, err
		}
		switch {
		case v == "":
		case v == Clear && (f == models.FormSubmitURL || f == models.HTTPRealm):
			changes[f] = nil
		default:
			changes[f] = models.String(v)
		}
	}
	return changes, nil
}

// Choose prints logins numbered from 1 and asks for one of them. A single
// login is returned without asking.
func (p *Prompter) Choose(logins []models.Login) (models.Login, error) {
	switch len(logins) {
	case 0:
		return models.Login{}, fmt.Errorf("no logins")
	case 1:
		return logins[0], nil
	}
	for i, l := range logins {
		fmt.Fprintf(p.out, "%d) %s\n", i+1, Describe(l))
	}
	v, err := p.Ask("Select login: ")
	if err != nil {
		return models.Login{}, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > len(logins) {
		return models.Login{}, fmt.Errorf("invalid selection %q", v)
	}
	return logins[n-1], nil
}

// Describe renders l on one line without its password.
func Describe(l models.Login) string {
	var b strings.Builder
	b.WriteString(l.Hostname)
	if l.Username != "" {
		b.WriteString(" user=" + l.Username)
	}
	if l.FormSubmitURL != nil {
		b.WriteString(" form=" + *l.FormSubmitURL)
	}
	if l.HTTPRealm != nil {
		b.WriteString(" realm=" + *l.HTTPRealm)
	}
	return b.String()
}
