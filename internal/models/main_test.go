package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogin_CloneIsDeep(t *testing.T) {
	l := Login{Hostname: "h", FormSubmitURL: String("a")}
	c := l.Clone()
	*c.FormSubmitURL = "b"
	assert.Equal(t, "a", *l.FormSubmitURL)
	assert.Nil(t, c.HTTPRealm)
}

func TestLogin_ValueAndSet(t *testing.T) {
	var l Login
	assert.Nil(t, l.Value(HTTPRealm))
	assert.Equal(t, "", *l.Value(Username))

	l.Set(HTTPRealm, String(""))
	assert.Equal(t, "", *l.HTTPRealm)
	l.Set(HTTPRealm, nil)
	assert.Nil(t, l.HTTPRealm)

	l.Set(Username, String("alice"))
	assert.Equal(t, "alice", l.Text(Username))
	l.Set(Username, nil)
	assert.Equal(t, "", l.Username)
}

func TestMatchAll(t *testing.T) {
	md := MatchAll(Login{Hostname: "h", Username: "u", HTTPRealm: String("r")})
	assert.Len(t, md, len(Fields))
	assert.True(t, md.Has(FormSubmitURL))
	assert.Nil(t, md[FormSubmitURL])
	assert.Equal(t, "r", md.Text(HTTPRealm))
}

func TestChange_ApplyChangeSet(t *testing.T) {
	base := Login{Hostname: "h", Username: "u", Password: "old", FormSubmitURL: String("")}

	got, changed := Changes(map[Field]*string{
		Password:      String("new"),
		Username:      String("u"),
		FormSubmitURL: nil,
	}).Apply(base)
	assert.True(t, changed)
	assert.Equal(t, "new", got.Password)
	assert.Nil(t, got.FormSubmitURL)
	assert.Equal(t, "old", base.Password)

	_, changed = Changes(map[Field]*string{Username: String("u")}).Apply(base)
	assert.False(t, changed)
}

func TestChange_ApplyFullRecord(t *testing.T) {
	base := Login{Hostname: "h", Username: "u", Password: "old", UsernameField: "user"}

	got, changed := Replace(Login{Password: "new", HTTPRealm: String("")}).Apply(base)
	assert.True(t, changed)
	assert.Equal(t, "new", got.Password)
	assert.Equal(t, "u", got.Username)
	assert.Equal(t, "user", got.UsernameField)
	assert.Nil(t, got.HTTPRealm)

	_, changed = Replace(Login{Hostname: "h"}).Apply(base)
	assert.False(t, changed)
}
