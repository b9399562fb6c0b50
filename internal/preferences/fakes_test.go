package preferences

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
)

var fixedNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

type memoryLocal struct {
	mu      sync.Mutex
	entries map[string]string
	sets    []string
}

func newMemoryLocal() *memoryLocal {
	return &memoryLocal{entries: map[string]string{}}
}

func (m *memoryLocal) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	return value, ok
}

func (m *memoryLocal) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	m.sets = append(m.sets, key)
}

func (m *memoryLocal) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

type savedPatch struct {
	uid   string
	patch settings.Patch
}

type remoteCall struct {
	operation string
	uid       string
	value     string
}

type fakeRemote struct {
	mu sync.Mutex

	documents map[string]settings.UserSettings
	roles     map[string]Role

	getErr      error
	roleErr     error
	saveErr     error
	followUpErr error
	activityErr error

	// block holds GetSettings after the document has been read.
	block chan struct{}

	// saveStarted is signalled when SaveSettings is entered; saveBlock holds it.
	saveStarted chan struct{}
	saveBlock   chan struct{}

	saves      []savedPatch
	calls      []remoteCall
	activities []ActivityRecord
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		documents: map[string]settings.UserSettings{},
		roles:     map[string]Role{},
	}
}

func (f *fakeRemote) GetSettings(ctx context.Context, uid string) (settings.UserSettings, error) {
	f.mu.Lock()
	block := f.block
	f.calls = append(f.calls, remoteCall{operation: "get_settings", uid: uid})
	getErr := f.getErr
	document, ok := f.documents[uid]
	if ok {
		document = document.Clone()
	} else {
		document = settings.Defaults(fixedNow)
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return settings.UserSettings{}, ctx.Err()
		}
	}
	if getErr != nil {
		return settings.UserSettings{}, getErr
	}
	return document, nil
}

func (f *fakeRemote) GetRole(_ context.Context, uid string) (Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{operation: "get_role", uid: uid})
	if f.roleErr != nil {
		return Role{}, f.roleErr
	}
	role, ok := f.roles[uid]
	if !ok {
		return DefaultRole(), nil
	}
	return role, nil
}

func (f *fakeRemote) SaveSettings(ctx context.Context, uid string, patch settings.Patch) error {
	f.mu.Lock()
	started, block := f.saveStarted, f.saveBlock
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, savedPatch{uid: uid, patch: patch})
	if f.saveErr != nil {
		return f.saveErr
	}
	document, ok := f.documents[uid]
	if !ok {
		document = settings.Defaults(fixedNow)
	}
	f.documents[uid] = document.Apply(patch)
	return nil
}

func (f *fakeRemote) SaveFavorites(_ context.Context, uid string, favorites []string) error {
	return f.record("save_favorites", uid, "")
}

func (f *fakeRemote) AddFavorite(_ context.Context, uid, city string) error {
	return f.record("add_favorite", uid, city)
}

func (f *fakeRemote) RemoveFavorite(_ context.Context, uid, city string) error {
	return f.record("remove_favorite", uid, city)
}

func (f *fakeRemote) AddSearch(_ context.Context, uid, city string) error {
	return f.record("add_search", uid, city)
}

func (f *fakeRemote) SaveRecentSearches(_ context.Context, uid string, _ []string) error {
	return f.record("save_recent_searches", uid, "")
}

func (f *fakeRemote) LogActivity(_ context.Context, record ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activityErr != nil {
		return f.activityErr
	}
	f.activities = append(f.activities, record)
	return nil
}

func (f *fakeRemote) record(operation, uid, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{operation: operation, uid: uid, value: value})
	return f.followUpErr
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls) + len(f.saves) + len(f.activities)
}

func (f *fakeRemote) callsFor(operation string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []remoteCall
	for _, call := range f.calls {
		if call.operation == operation {
			matched = append(matched, call)
		}
	}
	return matched
}

func (f *fakeRemote) activityActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.activities))
	for _, record := range f.activities {
		actions = append(actions, record.Action)
	}
	return actions
}

type fakeIdentities struct {
	mu          sync.Mutex
	current     *Identity
	subscribers []chan *Identity
	released    int
	signInErr   error
	anonymous   Identity
}

func (f *fakeIdentities) Subscribe(_ context.Context) (<-chan *Identity, func()) {
	stream := make(chan *Identity, 16)
	f.mu.Lock()
	stream <- copyIdentity(f.current)
	f.subscribers = append(f.subscribers, stream)
	f.mu.Unlock()

	var once sync.Once
	return stream, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for index, subscriber := range f.subscribers {
				if subscriber == stream {
					f.subscribers = append(f.subscribers[:index], f.subscribers[index+1:]...)
					break
				}
			}
			f.released++
		})
	}
}

func (f *fakeIdentities) SignInAnonymously(_ context.Context) (Identity, error) {
	if f.signInErr != nil {
		return Identity{}, f.signInErr
	}
	identity := f.anonymous
	f.emit(&identity)
	return identity, nil
}

func (f *fakeIdentities) SignOut(_ context.Context) error {
	f.emit(nil)
	return nil
}

func (f *fakeIdentities) emit(identity *Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = copyIdentity(identity)
	for _, subscriber := range f.subscribers {
		subscriber <- copyIdentity(identity)
	}
}

func (f *fakeIdentities) releasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func copyIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	clone := *identity
	return &clone
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}
