// Package service implements the host's login storage contract on top of a
// password store, delegating the reserved account to fallback storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atinyakov/passkeeper/internal/cache"
	"github.com/atinyakov/passkeeper/internal/config"
	"github.com/atinyakov/passkeeper/internal/matcher"
	"github.com/atinyakov/passkeeper/internal/models"
	"github.com/atinyakov/passkeeper/internal/paths"
	"github.com/atinyakov/passkeeper/internal/tree"
)

var (
	// ErrNotImplemented is returned by contract operations the store does
	// not support.
	ErrNotImplemented = errors.New("not implemented")
	// ErrInvalidLogin is returned when a login fails validation.
	ErrInvalidLogin = errors.New("invalid login")
)

// PassStore defines the password store operations needed by the LoginService.
type PassStore interface {
	tree.Source
	// Show returns the blob at path; ok is false when there is none.
	Show(ctx context.Context, path string) (blob string, ok bool)
	// Insert writes blob to path, replacing any existing entry.
	Insert(ctx context.Context, path, blob string) error
	// Remove deletes the entry at path.
	Remove(ctx context.Context, path string) error
	// RemoveTree deletes path recursively.
	RemoveTree(ctx context.Context, path string) error
	// Busy reports whether a tool invocation is in flight.
	Busy() bool
	// Check verifies the tool can be started.
	Check() error
}

// Fallback stores logins of the reserved account.
type Fallback interface {
	Initialize(ctx context.Context) error
	AddLogin(ctx context.Context, login models.Login) error
	RemoveLogin(ctx context.Context, login models.Login) error
	ModifyLogin(ctx context.Context, old models.Login, change models.Change) error
	SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error)
	CountLogins(ctx context.Context, md models.MatchData) (int, error)
	Close() error
}

// LoginService implements the login storage contract.
type LoginService struct {
	store    PassStore
	lister   *tree.Lister
	cache    *cache.Cache
	fallback Fallback
	settings atomic.Pointer[config.Settings]
	log      *zap.Logger
}

// NewLoginService constructs a LoginService. settings must be valid; use
// config.Options.Settings to build it.
func NewLoginService(store PassStore, c *cache.Cache, fallback Fallback, settings *config.Settings, log *zap.Logger) *LoginService {
	s := &LoginService{
		store:    store,
		lister:   tree.NewLister(store),
		cache:    c,
		fallback: fallback,
		log:      log,
	}
	s.settings.Store(settings)
	return s
}

// Settings returns the configuration snapshot in effect.
func (s *LoginService) Settings() *config.Settings {
	return s.settings.Load()
}

// Reconfigure replaces the configuration snapshot and drops every cached
// record, since records decoded with the old field map may be stale.
func (s *LoginService) Reconfigure(settings *config.Settings) {
	old := s.settings.Swap(settings)
	s.cache.Clear()
	if old != nil && old.PassCmd != settings.PassCmd {
		s.log.Warn("pass command change takes effect after restart",
			zap.String("current", old.PassCmd), zap.String("configured", settings.PassCmd))
	}
	s.log.Info("login service reconfigured",
		zap.String("realm", settings.Realm),
		zap.Bool("fuzzy", settings.Fuzzy),
		zap.Duration("cache", settings.CacheLifetime))
}

// Initialize verifies the password store tool and prepares the fallback.
func (s *LoginService) Initialize(ctx context.Context) error {
	if err := s.store.Check(); err != nil {
		return fmt.Errorf("password store unavailable: %w", err)
	}
	if err := s.fallback.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize fallback storage: %w", err)
	}
	return nil
}

// Terminate drops cached records and closes the fallback.
func (s *LoginService) Terminate() error {
	s.cache.Clear()
	return s.fallback.Close()
}

func (s *LoginService) resolver(cfg *config.Settings) *paths.Resolver {
	return paths.NewResolver(cfg.Realm, cfg.StripHostnames)
}

func (s *LoginService) reserved(cfg *config.Settings, hostname string, httpRealm *string) bool {
	return hostname == cfg.ReservedHostname && httpRealm != nil && *httpRealm == cfg.ReservedRealm
}

// Validate checks the values of a login before it is added.
func Validate(login models.Login) error {
	if login.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalidLogin)
	}
	if login.FormSubmitURL != nil && login.HTTPRealm != nil {
		return fmt.Errorf("%w: formSubmitURL and httpRealm are both set", ErrInvalidLogin)
	}
	if login.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidLogin)
	}
	return nil
}

// AddLogin stores a new login under its hostname path. The entry name is
// the next free numbered name, or the username when grouping by username.
func (s *LoginService) AddLogin(ctx context.Context, login models.Login) error {
	if err := Validate(login); err != nil {
		return err
	}
	cfg := s.settings.Load()
	if s.reserved(cfg, login.Hostname, login.HTTPRealm) {
		return s.fallback.AddLogin(ctx, login)
	}

	res := s.resolver(cfg)
	existing := s.lister.ListAll(ctx, res.HostnamePaths(login.Hostname))
	base := res.HostnamePath(login.Hostname)
	leaf, policy := paths.LeafBase(login.Username, cfg.SaveAsUsername)
	path := base + "/" + paths.NextLeafName(existing, base, leaf, policy)

	s.save(ctx, cfg, path, login)
	return nil
}

// save writes login to path and caches it. A failed write is logged and
// not reported.
func (s *LoginService) save(ctx context.Context, cfg *config.Settings, path string, login models.Login) {
	if err := s.store.Insert(ctx, path, cfg.FieldMap.Encode(login)); err != nil {
		s.log.Warn("failed to save login", zap.String("path", path), zap.Error(err))
		s.cache.Delete(path)
		return
	}
	s.cache.Put(path, login, cfg.CacheLifetime)
}

// Load returns the record stored at path without autocompletion. The
// result is always a copy.
func (s *LoginService) Load(ctx context.Context, path string) (models.Login, bool) {
	return s.load(ctx, s.settings.Load(), path)
}

func (s *LoginService) load(ctx context.Context, cfg *config.Settings, path string) (models.Login, bool) {
	if login, ok := s.cache.Get(path); ok {
		return login, true
	}
	blob, ok := s.store.Show(ctx, path)
	if !ok {
		return models.Login{}, false
	}
	login := cfg.FieldMap.Decode(blob)
	s.cache.Put(path, login, cfg.CacheLifetime)
	return login.Clone(), true
}

// filter returns the logins matching md with their paths. Only paths below
// the query's hostname are loaded; without a hostname the whole realm is.
func (s *LoginService) filter(ctx context.Context, cfg *config.Settings, md models.MatchData) ([]models.Login, []string) {
	query := make(models.MatchData, len(md))
	for f, v := range md {
		if f.Valid() {
			query[f] = v
		}
	}
	candidates := s.lister.ListAll(ctx, s.resolver(cfg).HostnamePaths(query.Text(models.Hostname)))
	m := matcher.New(cfg.Realm, cfg.Fuzzy)
	return m.Filter(candidates, query, func(p string) (models.Login, bool) {
		return s.load(ctx, cfg, p)
	})
}

// RemoveLogin deletes every stored entry matching login.
func (s *LoginService) RemoveLogin(ctx context.Context, login models.Login) error {
	cfg := s.settings.Load()
	if s.reserved(cfg, login.Hostname, login.HTTPRealm) {
		return s.fallback.RemoveLogin(ctx, login)
	}
	_, found := s.filter(ctx, cfg, models.MatchAll(login))
	for _, p := range found {
		if err := s.store.Remove(ctx, p); err != nil {
			s.log.Warn("failed to remove login", zap.String("path", p), zap.Error(err))
		}
		s.cache.Delete(p)
	}
	return nil
}

// ModifyLogin rewrites the entries matching old. A ChangeSet is applied to
// each stored record as loaded, without autocompletion. A FullRecord is
// applied to old and the result written to every matching path. Entries
// keep their paths. Nothing happens when no entry matches.
func (s *LoginService) ModifyLogin(ctx context.Context, old models.Login, change models.Change) error {
	cfg := s.settings.Load()
	if s.reserved(cfg, old.Hostname, old.HTTPRealm) {
		return s.fallback.ModifyLogin(ctx, old, change)
	}
	_, found := s.filter(ctx, cfg, models.MatchAll(old))
	if len(found) == 0 {
		return nil
	}

	switch change.Kind {
	case models.ChangeSet:
		for _, p := range found {
			login, ok := s.load(ctx, cfg, p)
			if !ok {
				continue
			}
			if updated, changed := change.Apply(login); changed {
				s.save(ctx, cfg, p, updated)
			}
		}
	case models.FullRecord:
		updated, changed := change.Apply(old)
		if !changed {
			return nil
		}
		for _, p := range found {
			s.save(ctx, cfg, p, updated)
		}
	default:
		return fmt.Errorf("unknown change kind %d", change.Kind)
	}
	return nil
}

// GetAllLogins returns every login in the realm. Logins of the reserved
// account are not included.
func (s *LoginService) GetAllLogins(ctx context.Context) ([]models.Login, error) {
	logins, _ := s.filter(ctx, s.settings.Load(), models.MatchData{})
	return logins, nil
}

// SearchLogins returns the logins matching md.
func (s *LoginService) SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error) {
	cfg := s.settings.Load()
	if s.reserved(cfg, md.Text(models.Hostname), md[models.HTTPRealm]) {
		return s.fallback.SearchLogins(ctx, md)
	}
	logins, _ := s.filter(ctx, cfg, md)
	return logins, nil
}

// FindQuery builds the query used by FindLogins. Empty strings are
// wildcards and are left out; nil values require the field to be absent.
func FindQuery(hostname string, formSubmitURL, httpRealm *string) models.MatchData {
	md := models.MatchData{}
	if hostname != "" {
		md[models.Hostname] = models.String(hostname)
	}
	for f, v := range map[models.Field]*string{models.FormSubmitURL: formSubmitURL, models.HTTPRealm: httpRealm} {
		if v == nil || *v != "" {
			md[f] = v
		}
	}
	return md
}

// FindLogins returns the logins for hostname with the given submit URL and
// HTTP realm.
func (s *LoginService) FindLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) ([]models.Login, error) {
	cfg := s.settings.Load()
	md := FindQuery(hostname, formSubmitURL, httpRealm)
	if s.reserved(cfg, hostname, httpRealm) {
		return s.fallback.SearchLogins(ctx, md)
	}
	logins, _ := s.filter(ctx, cfg, md)
	return logins, nil
}

// CountLogins returns the number of entries stored for hostname. Entries
// are not decrypted, so submit URL and realm only select the fallback.
func (s *LoginService) CountLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) (int, error) {
	cfg := s.settings.Load()
	if s.reserved(cfg, hostname, httpRealm) {
		return s.fallback.CountLogins(ctx, FindQuery(hostname, formSubmitURL, httpRealm))
	}
	return len(s.lister.ListAll(ctx, s.resolver(cfg).HostnamePaths(hostname))), nil
}

// RemoveAllLogins deletes the whole realm and empties the cache.
func (s *LoginService) RemoveAllLogins(ctx context.Context) error {
	cfg := s.settings.Load()
	if err := s.store.RemoveTree(ctx, cfg.Realm); err != nil {
		s.log.Warn("failed to remove realm", zap.String("realm", cfg.Realm), zap.Error(err))
	}
	s.cache.Clear()
	return nil
}

// GetLoginSavingEnabled reports whether logins may be saved for hostname.
// Saving is never disabled.
func (s *LoginService) GetLoginSavingEnabled(string) bool {
	return true
}

// SetLoginSavingEnabled is not supported.
func (s *LoginService) SetLoginSavingEnabled(string, bool) error {
	return fmt.Errorf("set login saving enabled: %w", ErrNotImplemented)
}

// GetAllDisabledHosts is not supported.
func (s *LoginService) GetAllDisabledHosts() ([]string, error) {
	return nil, fmt.Errorf("get all disabled hosts: %w", ErrNotImplemented)
}

// UIBusy reports whether a password store invocation, and possibly a
// passphrase prompt, is in progress.
func (s *LoginService) UIBusy() bool {
	return s.store.Busy()
}

// IsLoggedIn always reports true; unlocking is left to the store's agent.
func (s *LoginService) IsLoggedIn() bool {
	return true
}
