package service_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/passkeeper/internal/cache"
	"github.com/atinyakov/passkeeper/internal/clock"
	"github.com/atinyakov/passkeeper/internal/config"
	"github.com/atinyakov/passkeeper/internal/models"
	"github.com/atinyakov/passkeeper/internal/pass"
	"github.com/atinyakov/passkeeper/internal/service"
)

// memoryPass is a pass.Runner keeping entries in memory. It prints `ls`
// listings in the same ASCII tree format as the real tool.
type memoryPass struct {
	mu         sync.Mutex
	entries    map[string]string
	calls      []string
	failInsert bool
}

func newMemoryPass() *memoryPass {
	return &memoryPass{entries: map[string]string{}}
}

func (m *memoryPass) Run(_ context.Context, stdin string, args ...string) (pass.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.Join(args, " "))

	path := args[len(args)-1]
	switch args[0] {
	case "show":
		blob, ok := m.entries[path]
		if !ok {
			return notFound(path), nil
		}
		return pass.Result{Stdout: blob}, nil
	case "ls":
		return m.list(path), nil
	case "insert":
		if m.failInsert {
			return pass.Result{ExitCode: 1, Stderr: "gpg: encryption failed"}, nil
		}
		m.entries[path] = stdin
		return pass.Result{}, nil
	case "rm":
		recursive := len(args) == 4
		for p := range m.entries {
			if p == path || (recursive && strings.HasPrefix(p, path+"/")) {
				delete(m.entries, p)
			}
		}
		return pass.Result{}, nil
	}
	return pass.Result{ExitCode: 1}, nil
}

func notFound(path string) pass.Result {
	return pass.Result{ExitCode: 1, Stderr: "Error: " + path + " is not in the password store."}
}

type dirNode map[string]dirNode

func (m *memoryPass) list(path string) pass.Result {
	root := dirNode{}
	for p := range m.entries {
		rel, ok := strings.CutPrefix(p, path+"/")
		if !ok {
			continue
		}
		n := root
		for _, seg := range strings.Split(rel, "/") {
			if n[seg] == nil {
				n[seg] = dirNode{}
			}
			n = n[seg]
		}
	}
	if len(root) == 0 {
		return notFound(path)
	}
	var b strings.Builder
	b.WriteString(path + "\n")
	render(&b, root, "")
	return pass.Result{Stdout: b.String()}
}

func render(b *strings.Builder, n dirNode, prefix string) {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		conn, ext := "|-- ", "|   "
		if i == len(names)-1 {
			conn, ext = "`-- ", "    "
		}
		b.WriteString(prefix + conn + name + "\n")
		render(b, n[name], prefix+ext)
	}
}

func (m *memoryPass) count(verb string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.HasPrefix(c, verb+" ") {
			n++
		}
	}
	return n
}

func (m *memoryPass) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for p := range m.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type mockFallback struct {
	InitializeFunc   func(ctx context.Context) error
	AddLoginFunc     func(ctx context.Context, login models.Login) error
	RemoveLoginFunc  func(ctx context.Context, login models.Login) error
	ModifyLoginFunc  func(ctx context.Context, old models.Login, change models.Change) error
	SearchLoginsFunc func(ctx context.Context, md models.MatchData) ([]models.Login, error)
	CountLoginsFunc  func(ctx context.Context, md models.MatchData) (int, error)
	CloseFunc        func() error
}

func (m *mockFallback) Initialize(ctx context.Context) error {
	if m.InitializeFunc == nil {
		return nil
	}
	return m.InitializeFunc(ctx)
}
func (m *mockFallback) AddLogin(ctx context.Context, login models.Login) error {
	return m.AddLoginFunc(ctx, login)
}
func (m *mockFallback) RemoveLogin(ctx context.Context, login models.Login) error {
	return m.RemoveLoginFunc(ctx, login)
}
func (m *mockFallback) ModifyLogin(ctx context.Context, old models.Login, change models.Change) error {
	return m.ModifyLoginFunc(ctx, old, change)
}
func (m *mockFallback) SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error) {
	return m.SearchLoginsFunc(ctx, md)
}
func (m *mockFallback) CountLogins(ctx context.Context, md models.MatchData) (int, error) {
	return m.CountLoginsFunc(ctx, md)
}
func (m *mockFallback) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

func settings(t *testing.T, modify func(*config.Options)) *config.Settings {
	t.Helper()
	o := config.Defaults()
	o.Realm = "R"
	o.Fuzzy = true
	if modify != nil {
		modify(o)
	}
	s, err := o.Settings()
	require.NoError(t, err)
	return s
}

type fixture struct {
	svc      *service.LoginService
	pass     *memoryPass
	store    *pass.Store
	cache    *cache.Cache
	fallback *mockFallback
}

func newFixture(t *testing.T, modify func(*config.Options)) *fixture {
	t.Helper()
	mp := newMemoryPass()
	store := pass.NewStore(mp, zap.NewNop())
	c := cache.New(clock.Fake(time.Unix(0, 0)))
	fb := &mockFallback{}
	return &fixture{
		svc:      service.NewLoginService(store, c, fb, settings(t, modify), zap.NewNop()),
		pass:     mp,
		store:    store,
		cache:    c,
		fallback: fb,
	}
}

func formLogin(host, user, password string) models.Login {
	return models.Login{
		Hostname:      host,
		FormSubmitURL: models.String(host),
		Username:      user,
		Password:      password,
		UsernameField: "user",
		PasswordField: "pass",
	}
}

func TestAddAndFind_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.AddLogin(ctx, models.Login{
		Hostname:      "https://example.com/login",
		FormSubmitURL: models.String("https://example.com/login"),
		Username:      "alice",
		Password:      "s3cret",
	}))
	assert.Equal(t, []string{"R/example.com/passmanager1"}, f.pass.paths())
	assert.Equal(t, "s3cret\nlogin: alice\nurl: https://example.com/login\nformsubmiturl: https://example.com/login",
		f.pass.entries["R/example.com/passmanager1"])

	f.cache.Clear()
	logins, err := f.svc.FindLogins(ctx, "https://example.com", models.String("https://example.com"), nil)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "https://example.com", logins[0].Hostname)
	assert.Equal(t, "https://example.com", *logins[0].FormSubmitURL)
	assert.Nil(t, logins[0].HTTPRealm)
	assert.Equal(t, "alice", logins[0].Username)
	assert.Equal(t, "s3cret", logins[0].Password)
}

func TestAddLogin_Numbering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.pass.entries["R/example.com/passmanager"] = "old"
	f.pass.entries["R/example.com/passmanager5"] = "old"
	f.pass.entries["R/example.com/alice/passmanager9"] = "nested"

	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "a", "1")))
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "b", "2")))

	assert.Contains(t, f.pass.paths(), "R/example.com/passmanager6")
	assert.Contains(t, f.pass.paths(), "R/example.com/passmanager7")
}

func TestAddLogin_SaveAsUsername(t *testing.T) {
	f := newFixture(t, func(o *config.Options) { o.SaveAsUsername = true })
	ctx := context.Background()

	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "alice smith@example.com", "1")))
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "alice smith@example.com", "2")))
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "?!", "3")))

	assert.Equal(t, []string{
		"R/example.com/alice_smith@example.com",
		"R/example.com/alice_smith@example.com_1",
		"R/example.com/passmanager1",
	}, f.pass.paths())
}

func TestAddLogin_StoresUnderPrimaryHostname(t *testing.T) {
	f := newFixture(t, nil)
	f.pass.entries["R/example.com/passmanager1"] = "old"

	require.NoError(t, f.svc.AddLogin(context.Background(), formLogin("https://www.example.com", "a", "1")))
	assert.Contains(t, f.pass.paths(), "R/www.example.com/passmanager1")
}

func TestAddLogin_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	both := formLogin("https://example.com", "a", "1")
	both.HTTPRealm = models.String("realm")

	for name, login := range map[string]models.Login{
		"no hostname":   formLogin("", "a", "1"),
		"no password":   formLogin("https://example.com", "a", ""),
		"both url kind": both,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.AddLogin(ctx, login), service.ErrInvalidLogin)
		})
	}
	assert.Empty(t, f.pass.paths())
}

func TestAddLogin_FailedInsertIsNotReported(t *testing.T) {
	f := newFixture(t, nil)
	f.pass.failInsert = true

	require.NoError(t, f.svc.AddLogin(context.Background(), formLogin("https://example.com", "a", "1")))
	assert.Empty(t, f.pass.paths())
	assert.Equal(t, 0, f.cache.Len())
}

func TestLoad_UsesCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.pass.entries["R/example.com/passmanager1"] = "pw\nlogin: alice"

	for i := 0; i < 3; i++ {
		login, ok := f.svc.Load(ctx, "R/example.com/passmanager1")
		require.True(t, ok)
		assert.Equal(t, "alice", login.Username)
		login.Username = "mutated"
	}
	assert.Equal(t, 1, f.pass.count("show"))

	_, ok := f.svc.Load(ctx, "R/missing")
	assert.False(t, ok)
}

func TestLoad_CacheDisabled(t *testing.T) {
	f := newFixture(t, func(o *config.Options) { o.Cache = 0 })
	ctx := context.Background()
	f.pass.entries["R/a/passmanager1"] = "pw"

	f.svc.Load(ctx, "R/a/passmanager1")
	f.svc.Load(ctx, "R/a/passmanager1")
	assert.Equal(t, 2, f.pass.count("show"))
}

func TestSearchLogins_EmptySubmitURL(t *testing.T) {
	ctx := context.Background()
	query := models.MatchData{
		models.Hostname:      models.String("https://example.com"),
		models.FormSubmitURL: models.String(""),
	}

	fuzzy := newFixture(t, nil)
	fuzzy.pass.entries["R/example.com/passmanager1"] = "pw\nlogin: alice"
	logins, err := fuzzy.svc.SearchLogins(ctx, query)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "", *logins[0].FormSubmitURL)

	exact := newFixture(t, func(o *config.Options) { o.Fuzzy = false })
	exact.pass.entries["R/example.com/passmanager1"] = "pw\nlogin: alice\nurl: https://example.com"
	logins, err = exact.svc.SearchLogins(ctx, query)
	require.NoError(t, err)
	assert.Empty(t, logins)

	logins, err = exact.svc.SearchLogins(ctx, models.MatchData{
		models.Hostname:      models.String("https://example.com"),
		models.FormSubmitURL: nil,
	})
	require.NoError(t, err)
	assert.Len(t, logins, 1)
}

func TestFindLogins_StrippedVariantAndRealm(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.pass.entries["R/example.com/passmanager1"] = "pw1\nlogin: stripped"
	f.pass.entries["R/www.example.com/passmanager1"] = "pw2\nlogin: primary"
	f.pass.entries["R/www.example.com/passmanager2"] = "pw3\nlogin: basic\nhttprealm: intranet"

	logins, err := f.svc.FindLogins(ctx, "https://www.example.com", models.String(""), nil)
	require.NoError(t, err)
	require.Len(t, logins, 2)
	assert.Equal(t, "stripped", logins[0].Username)
	assert.Equal(t, "https://www.example.com", logins[0].Hostname)
	assert.Equal(t, "primary", logins[1].Username)

	// entries of unknown kind inherit the realm from the query
	logins, err = f.svc.FindLogins(ctx, "https://www.example.com", nil, models.String("intranet"))
	require.NoError(t, err)
	require.Len(t, logins, 3)
	assert.Equal(t, "basic", logins[2].Username)
	assert.Equal(t, "intranet", *logins[0].HTTPRealm)
}

func TestFindQuery(t *testing.T) {
	md := service.FindQuery("https://example.com", models.String(""), nil)
	assert.Equal(t, models.MatchData{
		models.Hostname:  models.String("https://example.com"),
		models.HTTPRealm: nil,
	}, md)

	md = service.FindQuery("", models.String("https://a"), models.String(""))
	assert.Equal(t, models.MatchData{models.FormSubmitURL: models.String("https://a")}, md)
}

func TestCountLogins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.pass.entries["R/example.com/passmanager1"] = "pw"
	f.pass.entries["R/www.example.com/passmanager1"] = "pw"
	f.pass.entries["R/www.example.com/passmanager2"] = "pw"

	n, err := f.svc.CountLogins(ctx, "https://www.example.com", models.String(""), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.CountLogins(ctx, "https://other.org", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Zero(t, f.pass.count("show"))
}

func TestGetAllLogins(t *testing.T) {
	f := newFixture(t, nil)
	f.pass.entries["R/a.org/passmanager1"] = "pw1\nurl: https://a.org/x"
	f.pass.entries["R/b.org/bob/passmanager1"] = "pw2\nlogin: bob"
	f.pass.entries["Other/c.org/passmanager1"] = "pw3"

	logins, err := f.svc.GetAllLogins(context.Background())
	require.NoError(t, err)
	require.Len(t, logins, 2)
	assert.Equal(t, "https://a.org", logins[0].Hostname)
	assert.Equal(t, "https://b.org", logins[1].Hostname)
}

func TestRemoveLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "alice", "1")))
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "bob", "2")))

	all, err := f.svc.GetAllLogins(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, f.svc.RemoveLogin(ctx, all[0]))
	assert.Equal(t, []string{"R/example.com/passmanager2"}, f.pass.paths())
	assert.Equal(t, 1, f.cache.Len())
}

func TestModifyLogin_ChangeSet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.pass.entries["R/example.com/passmanager1"] = "old\nlogin: alice"

	all, err := f.svc.GetAllLogins(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, f.svc.ModifyLogin(ctx, all[0], models.Changes(map[models.Field]*string{
		models.Password: models.String("new"),
	})))
	// raw record rewritten, autocompleted fields are not persisted
	assert.Equal(t, "new\nlogin: alice", f.pass.entries["R/example.com/passmanager1"])
	assert.Equal(t, []string{"R/example.com/passmanager1"}, f.pass.paths())
}

func TestModifyLogin_FullRecord(t *testing.T) {
	f := newFixture(t, func(o *config.Options) { o.Fuzzy = false })
	ctx := context.Background()
	old := formLogin("https://example.com", "alice", "old")
	require.NoError(t, f.svc.AddLogin(ctx, old))

	require.NoError(t, f.svc.ModifyLogin(ctx, old, models.Replace(models.Login{Password: "new"})))
	logins, err := f.svc.FindLogins(ctx, "https://example.com", models.String("https://example.com"), nil)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "new", logins[0].Password)
	assert.Equal(t, "alice", logins[0].Username)

	f.cache.Clear()
	logins, err = f.svc.FindLogins(ctx, "https://example.com", models.String("https://example.com"), nil)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "new", logins[0].Password)
}

func TestModifyLogin_NoMatch(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.ModifyLogin(context.Background(),
		formLogin("https://example.com", "ghost", "x"),
		models.Replace(models.Login{Password: "y"})))
	assert.Zero(t, f.pass.count("insert"))
}

func TestRemoveAllLogins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "a", "1")))
	f.pass.entries["Other/keep"] = "pw"

	require.NoError(t, f.svc.RemoveAllLogins(ctx))
	assert.Equal(t, []string{"Other/keep"}, f.pass.paths())
	assert.Equal(t, 0, f.cache.Len())
}

func TestReservedAccountUsesFallback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := models.Login{
		Hostname:  config.ReservedHostname,
		HTTPRealm: models.String(config.ReservedRealm),
		Username:  "me@example.com",
		Password:  "token",
	}
	var calls []string
	f.fallback.AddLoginFunc = func(_ context.Context, l models.Login) error {
		calls = append(calls, "add")
		assert.Equal(t, account, l)
		return nil
	}
	f.fallback.RemoveLoginFunc = func(context.Context, models.Login) error {
		calls = append(calls, "remove")
		return nil
	}
	f.fallback.ModifyLoginFunc = func(_ context.Context, _ models.Login, c models.Change) error {
		calls = append(calls, "modify")
		assert.Equal(t, models.FullRecord, c.Kind)
		return nil
	}
	f.fallback.SearchLoginsFunc = func(_ context.Context, md models.MatchData) ([]models.Login, error) {
		calls = append(calls, "search")
		return []models.Login{account}, nil
	}
	f.fallback.CountLoginsFunc = func(context.Context, models.MatchData) (int, error) {
		calls = append(calls, "count")
		return 1, nil
	}

	require.NoError(t, f.svc.AddLogin(ctx, account))
	require.NoError(t, f.svc.ModifyLogin(ctx, account, models.Replace(account)))

	found, err := f.svc.FindLogins(ctx, account.Hostname, models.String(""), account.HTTPRealm)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = f.svc.SearchLogins(ctx, models.MatchData{
		models.Hostname:  models.String(account.Hostname),
		models.HTTPRealm: account.HTTPRealm,
	})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	n, err := f.svc.CountLogins(ctx, account.Hostname, nil, account.HTTPRealm)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, f.svc.RemoveLogin(ctx, account))

	assert.Equal(t, []string{"add", "modify", "search", "search", "count", "remove"}, calls)
	assert.Empty(t, f.pass.calls)
}

func TestReservedHostnameWithOtherRealmStaysInStore(t *testing.T) {
	f := newFixture(t, nil)
	login := models.Login{Hostname: config.ReservedHostname, HTTPRealm: models.String("other"), Password: "pw"}
	require.NoError(t, f.svc.AddLogin(context.Background(), login))
	assert.Len(t, f.pass.paths(), 1)
}

func TestReservedFallbackError(t *testing.T) {
	f := newFixture(t, nil)
	wantErr := errors.New("disk full")
	f.fallback.AddLoginFunc = func(context.Context, models.Login) error { return wantErr }

	err := f.svc.AddLogin(context.Background(), models.Login{
		Hostname:  config.ReservedHostname,
		HTTPRealm: models.String(config.ReservedRealm),
		Password:  "pw",
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "a", "1")))
	require.Equal(t, 1, f.cache.Len())

	f.svc.Reconfigure(settings(t, func(o *config.Options) { o.Realm = "Other" }))
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, "Other", f.svc.Settings().Realm)

	require.NoError(t, f.svc.AddLogin(ctx, formLogin("https://example.com", "b", "2")))
	assert.Contains(t, f.pass.paths(), "Other/example.com/passmanager1")
}

func TestHostContractStubs(t *testing.T) {
	f := newFixture(t, nil)

	assert.True(t, f.svc.GetLoginSavingEnabled("https://example.com"))
	assert.True(t, f.svc.IsLoggedIn())
	assert.False(t, f.svc.UIBusy())
	assert.ErrorIs(t, f.svc.SetLoginSavingEnabled("https://example.com", false), service.ErrNotImplemented)
	_, err := f.svc.GetAllDisabledHosts()
	assert.ErrorIs(t, err, service.ErrNotImplemented)
}

func TestInitializeTerminate(t *testing.T) {
	f := newFixture(t, nil)
	closed := false
	f.fallback.CloseFunc = func() error { closed = true; return nil }

	require.NoError(t, f.svc.Initialize(context.Background()))
	f.cache.Put("R/x", models.Login{}, time.Minute)
	require.NoError(t, f.svc.Terminate())
	assert.True(t, closed)
	assert.Equal(t, 0, f.cache.Len())

	wantErr := errors.New("no db")
	f.fallback.InitializeFunc = func(context.Context) error { return wantErr }
	assert.ErrorIs(t, f.svc.Initialize(context.Background()), wantErr)
}
