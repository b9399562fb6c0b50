// Package preferences reconciles user settings between device-local persistence
// and the remote per-user document store.
//
// Exactly one backing store is authoritative at any instant: the remote store
// while an identity is present (anonymous identities included), local
// persistence otherwise. Mutations are applied to the in-memory snapshot before
// any I/O; a failed remote write rolls the snapshot back to its pre-update value.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRemoteTimeout = 10 * time.Second

	keySettings = "settings"
	keyLanguage = "language"
)

var (
	errMissingLocalStore     = errors.New("preferences: local store is required")
	errMissingRemoteStore    = errors.New("preferences: remote store is required")
	errMissingIdentitySource = errors.New("preferences: identity source is required")
	errAlreadyObserving      = errors.New("preferences: identity already observed")
)

// Config describes the collaborators of a Store.
type Config struct {
	Local         LocalStore
	Remote        RemoteStore
	Identities    IdentitySource
	Logger        *zap.Logger
	Clock         func() time.Time
	RemoteTimeout time.Duration
	// ClientContext is attached to every activity record (user agent, device label).
	ClientContext string
}

// Store presents a single settings view regardless of sign-in state.
type Store struct {
	local         LocalStore
	remote        RemoteStore
	identities    IdentitySource
	logger        *zap.Logger
	clock         func() time.Time
	remoteTimeout time.Duration
	clientContext string

	mu          sync.RWMutex
	state       State
	settings    settings.UserSettings
	identity    *Identity
	role        Role
	loading     bool
	initialized bool

	// revision changes whenever the snapshot is replaced wholesale.
	revision    uint64
	pending     []pendingPatch
	nextPending uint64

	// localDefaults stands in for a local snapshot that was never persisted.
	localDefaults settings.UserSettings

	observeMu sync.Mutex
	release   func()
	cancel    context.CancelFunc
	done      chan struct{}
}

// pendingPatch is a remote write issued while the remote document was being
// fetched. It is replayed onto the fetched document.
type pendingPatch struct {
	id        uint64
	patch     settings.Patch
	stampedAt time.Time
}

// NewStore constructs a Store in the anonymous-local state with the snapshot
// loaded from local persistence.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Local == nil {
		return nil, errMissingLocalStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemoteStore
	}
	if cfg.Identities == nil {
		return nil, errMissingIdentitySource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	store := &Store{
		local:         cfg.Local,
		remote:        cfg.Remote,
		identities:    cfg.Identities,
		logger:        logger,
		clock:         clock,
		remoteTimeout: timeout,
		clientContext: cfg.ClientContext,
		state:         StateAnonymousLocal,
		role:          DefaultRole(),
		loading:       true,
		localDefaults: settings.Defaults(clock()),
	}
	store.settings = store.loadLocal()
	return store, nil
}

// ObserveIdentity subscribes to identity transitions and drives the state
// machine until Close is called or ctx ends. It may be called once.
func (s *Store) ObserveIdentity(ctx context.Context) error {
	s.observeMu.Lock()
	defer s.observeMu.Unlock()
	if s.done != nil {
		return errAlreadyObserving
	}

	observeCtx, cancel := context.WithCancel(ctx)
	stream, release := s.identities.Subscribe(observeCtx)
	done := make(chan struct{})
	s.release = release
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		for {
			select {
			case <-observeCtx.Done():
				return
			case identity, ok := <-stream:
				if !ok {
					return
				}
				s.handleIdentity(observeCtx, identity)
			}
		}
	}()
	return nil
}

// Close releases the identity subscription and waits for the observer to stop.
func (s *Store) Close() {
	s.observeMu.Lock()
	release, cancel, done := s.release, s.cancel, s.done
	s.observeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if release != nil {
		release()
	}
	if done != nil {
		<-done
	}
}

func (s *Store) handleIdentity(ctx context.Context, identity *Identity) {
	if identity == nil {
		s.enterAnonymousLocal()
		return
	}
	s.enterRemoteBound(ctx, *identity)
}

func (s *Store) enterRemoteBound(ctx context.Context, identity Identity) {
	s.mu.Lock()
	previous := s.identity
	s.identity = &identity
	s.state = StateResolving
	s.loading = true
	s.pending = nil
	fallbackSettings := settings.Defaults(s.clock())
	if language, ok := s.local.Get(keyLanguage); ok && language != "" {
		fallbackSettings.Language = language
	}
	s.mu.Unlock()

	if previous == nil {
		s.logger.Info("remote settings replace local snapshot; local favorites are not merged",
			zap.String("uid", identity.UID),
			zap.Bool("anonymous", identity.IsAnonymous))
	}

	var (
		remoteSettings settings.UserSettings
		role           Role
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		remoteSettings = withFallback(groupCtx, s.logger, s.remoteTimeout, "get_settings",
			func(callCtx context.Context) (settings.UserSettings, error) {
				return s.remote.GetSettings(callCtx, identity.UID)
			}, fallbackSettings)
		return nil
	})
	group.Go(func() error {
		role = withFallback(groupCtx, s.logger, s.remoteTimeout, "get_role",
			func(callCtx context.Context) (Role, error) {
				return s.remote.GetRole(callCtx, identity.UID)
			}, DefaultRole())
		return nil
	})
	_ = group.Wait()

	s.mu.Lock()
	if s.identity == nil || s.identity.UID != identity.UID {
		s.mu.Unlock()
		return
	}
	resolved := remoteSettings.Normalize()
	for _, queued := range s.pending {
		resolved = resolved.Apply(queued.patch)
		resolved.LastUpdated = queued.stampedAt
	}
	s.pending = nil
	s.settings = resolved
	s.revision++
	s.role = normalizeRole(role)
	s.state = StateRemoteBound
	s.loading = false
	s.initialized = true
	s.mu.Unlock()

	if previous == nil || previous.UID != identity.UID {
		details := map[string]any{"anonymous": identity.IsAnonymous}
		s.recordActivity(ctx, identity, ActionLogin, details)
	}
}

func (s *Store) enterAnonymousLocal() {
	snapshot := s.loadLocal()

	s.mu.Lock()
	s.identity = nil
	s.role = DefaultRole()
	s.settings = snapshot
	s.revision++
	s.pending = nil
	s.state = StateAnonymousLocal
	s.loading = false
	s.initialized = true
	s.mu.Unlock()
}

// loadLocal reads the anonymous-local snapshot. The language key overrides the
// snapshot because it is written even while remote-bound.
func (s *Store) loadLocal() settings.UserSettings {
	snapshot := s.localDefaults.Clone()
	if raw, ok := s.local.Get(keySettings); ok && raw != "" {
		var stored settings.UserSettings
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			s.logger.Warn("local settings snapshot unreadable; using defaults", zap.Error(err))
		} else {
			snapshot = stored.Normalize()
		}
	}
	if language, ok := s.local.Get(keyLanguage); ok && language != "" {
		snapshot.Language = language
	}
	return snapshot
}

func (s *Store) persistLocal(snapshot settings.UserSettings) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("local settings snapshot encode failed", zap.Error(err))
		return
	}
	s.local.Set(keySettings, string(encoded))
}

// Settings returns a copy of the current snapshot.
func (s *Store) Settings() settings.UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Identity returns the current identity, or nil when anonymous-local.
func (s *Store) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

// Role returns the resolved role.
func (s *Store) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Role{Role: s.role.Role, Permissions: append([]string{}, s.role.Permissions...)}
}

// State returns the authority state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Loading reports whether an identity resolution is in flight (or none has been observed yet).
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Initialized reports whether at least one identity event has been handled.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// IsAuthenticated reports whether any identity is present.
func (s *Store) IsAuthenticated() bool {
	return s.Identity() != nil
}

// IsAnonymous reports whether the present identity is anonymous.
func (s *Store) IsAnonymous() bool {
	identity := s.Identity()
	return identity != nil && identity.IsAnonymous
}

// IsAdmin reports whether the resolved role is admin.
func (s *Store) IsAdmin() bool {
	return s.Role().Role == RoleAdmin
}

func normalizeRole(role Role) Role {
	if role.Role == "" {
		role.Role = RoleUser
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return role
}
