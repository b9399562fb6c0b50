package preferences

import (
	"context"
	"fmt"
	"slices"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"go.uber.org/zap"
)

// mutation derives a patch from the current snapshot. remoteBound reports
// which store is authoritative. Returning false skips the update.
type mutation func(current settings.UserSettings, remoteBound bool) (settings.Patch, bool)

// UpdateSettings applies patch to the in-memory snapshot and persists it to the
// authoritative store. A failed remote write restores the pre-update snapshot
// and returns an error wrapping ErrPersistenceFailure.
func (s *Store) UpdateSettings(ctx context.Context, patch settings.Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	_, _, err := s.mutate(ctx, func(_ settings.UserSettings, remoteBound bool) (settings.Patch, bool) {
		return constrainLists(patch, remoteBound), !patch.IsEmpty()
	})
	return err
}

// constrainLists drops duplicate list entries. Without an identity only the
// newest LocalFavoritesLimit favorites are kept.
func constrainLists(patch settings.Patch, remoteBound bool) settings.Patch {
	if patch.Favorites != nil {
		favorites := settings.Dedupe(*patch.Favorites)
		if !remoteBound {
			favorites = settings.KeepNewest(favorites, settings.LocalFavoritesLimit)
		}
		patch.Favorites = &favorites
	}
	if patch.RecentSearches != nil {
		searches := settings.Dedupe(*patch.RecentSearches)
		patch.RecentSearches = &searches
	}
	return patch
}

func (s *Store) SetTheme(ctx context.Context, theme settings.Theme) error {
	return s.UpdateSettings(ctx, settings.Patch{Theme: &theme})
}

// SetLanguage writes the local language key before anything else so the next
// start renders in the chosen language before identity resolves.
func (s *Store) SetLanguage(ctx context.Context, language string) error {
	patch := settings.Patch{Language: &language}
	if err := patch.Validate(); err != nil {
		return err
	}
	s.local.Set(keyLanguage, language)
	return s.UpdateSettings(ctx, patch)
}

func (s *Store) SetRegion(ctx context.Context, region settings.Region) error {
	return s.UpdateSettings(ctx, settings.Patch{Region: &region})
}

func (s *Store) SetUnits(ctx context.Context, units settings.Units) error {
	return s.UpdateSettings(ctx, settings.Patch{Units: &units})
}

func (s *Store) SetNotifications(ctx context.Context, enabled bool) error {
	return s.UpdateSettings(ctx, settings.Patch{Notifications: &enabled})
}

// AddFavorite appends city when absent. Without an identity only the newest
// LocalFavoritesLimit favorites are kept.
func (s *Store) AddFavorite(ctx context.Context, city string) error {
	city, err := settings.NormalizeCity(city)
	if err != nil {
		return err
	}
	identity, changed, err := s.mutate(ctx, func(current settings.UserSettings, remoteBound bool) (settings.Patch, bool) {
		favorites, added := settings.AppendUnique(current.Favorites, city)
		if !added {
			return settings.Patch{}, false
		}
		if !remoteBound {
			favorites = settings.KeepNewest(favorites, settings.LocalFavoritesLimit)
		}
		return settings.Patch{Favorites: &favorites}, true
	})
	if err != nil || !changed || identity == nil {
		return err
	}
	s.followUp(ctx, "add_favorite", func(callCtx context.Context) error {
		return s.remote.AddFavorite(callCtx, identity.UID, city)
	})
	s.recordActivity(ctx, *identity, ActionFavoriteAdded, map[string]any{"city": city})
	return nil
}

// RemoveFavorite drops city. Removing an absent city is a no-op.
func (s *Store) RemoveFavorite(ctx context.Context, city string) error {
	city, err := settings.NormalizeCity(city)
	if err != nil {
		return err
	}
	identity, changed, err := s.mutate(ctx, func(current settings.UserSettings, _ bool) (settings.Patch, bool) {
		favorites, removed := settings.RemoveItem(current.Favorites, city)
		if !removed {
			return settings.Patch{}, false
		}
		return settings.Patch{Favorites: &favorites}, true
	})
	if err != nil || !changed || identity == nil {
		return err
	}
	s.followUp(ctx, "remove_favorite", func(callCtx context.Context) error {
		return s.remote.RemoveFavorite(callCtx, identity.UID, city)
	})
	s.recordActivity(ctx, *identity, ActionFavoriteRemoved, map[string]any{"city": city})
	return nil
}

func (s *Store) ClearFavorites(ctx context.Context) error {
	var cleared int
	identity, _, err := s.mutate(ctx, func(current settings.UserSettings, _ bool) (settings.Patch, bool) {
		cleared = len(current.Favorites)
		favorites := []string{}
		return settings.Patch{Favorites: &favorites}, true
	})
	if err != nil || identity == nil {
		return err
	}
	s.followUp(ctx, "save_favorites", func(callCtx context.Context) error {
		return s.remote.SaveFavorites(callCtx, identity.UID, []string{})
	})
	s.recordActivity(ctx, *identity, ActionFavoritesCleared, map[string]any{"count": cleared})
	return nil
}

// AddSearch moves city to the front of the recent searches, keeping at most
// MaxRecentSearches entries.
func (s *Store) AddSearch(ctx context.Context, city string) error {
	city, err := settings.NormalizeCity(city)
	if err != nil {
		return err
	}
	identity, _, err := s.mutate(ctx, func(current settings.UserSettings, _ bool) (settings.Patch, bool) {
		searches := settings.MoveToFront(current.RecentSearches, city, settings.MaxRecentSearches)
		return settings.Patch{RecentSearches: &searches}, true
	})
	if err != nil || identity == nil {
		return err
	}
	s.followUp(ctx, "add_search", func(callCtx context.Context) error {
		return s.remote.AddSearch(callCtx, identity.UID, city)
	})
	s.recordActivity(ctx, *identity, ActionSearchAdded, map[string]any{"city": city})
	return nil
}

func (s *Store) ClearSearches(ctx context.Context) error {
	identity, _, err := s.mutate(ctx, func(settings.UserSettings, bool) (settings.Patch, bool) {
		searches := []string{}
		return settings.Patch{RecentSearches: &searches}, true
	})
	if err != nil || identity == nil {
		return err
	}
	s.followUp(ctx, "save_recent_searches", func(callCtx context.Context) error {
		return s.remote.SaveRecentSearches(callCtx, identity.UID, []string{})
	})
	s.recordActivity(ctx, *identity, ActionSearchesCleared, nil)
	return nil
}

// ResetSettings restores the defaults and clears the local language key.
// A failed remote write is returned but the defaults stay in memory.
func (s *Store) ResetSettings(ctx context.Context) error {
	s.mu.Lock()
	defaults := settings.Defaults(s.clock())
	s.settings = defaults
	s.revision++
	identity := s.identityLocked()
	s.local.Remove(keyLanguage)
	if identity == nil {
		s.persistLocal(defaults)
	}
	if s.state == StateResolving {
		s.pending = []pendingPatch{{patch: settings.FullPatch(defaults), stampedAt: defaults.LastUpdated}}
	}
	s.mu.Unlock()

	if identity == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.SaveSettings(callCtx, identity.UID, settings.FullPatch(defaults)); err != nil {
		s.logger.Error("settings reset not persisted", zap.String("uid", identity.UID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	s.recordActivity(ctx, *identity, ActionSettingsReset, nil)
	return nil
}

// LoginAnonymously asks the identity source for an anonymous identity. The
// resulting transition arrives through the identity stream; local data is not
// carried over.
func (s *Store) LoginAnonymously(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	identity, err := s.identities.SignInAnonymously(ctx)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.logger.Error("anonymous sign-in failed", zap.Error(err))
		return Identity{}, err
	}
	return identity, nil
}

// Logout records the logout and signs out of the identity source.
func (s *Store) Logout(ctx context.Context) error {
	if identity := s.Identity(); identity != nil {
		s.recordActivity(ctx, *identity, ActionLogout, nil)
	}
	if err := s.identities.SignOut(ctx); err != nil {
		s.logger.Error("sign-out failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) mutate(ctx context.Context, build mutation) (*Identity, bool, error) {
	s.mu.Lock()
	identity := s.identityLocked()
	patch, ok := build(s.settings, identity != nil)
	if !ok {
		s.mu.Unlock()
		return identity, false, nil
	}
	previous := s.settings.Clone()
	updated := s.settings.Apply(patch)
	updated.LastUpdated = s.clock().UTC()
	s.settings = updated
	if identity == nil {
		s.persistLocal(updated)
		s.mu.Unlock()
		return nil, true, nil
	}
	revision := s.revision
	s.nextPending++
	queued := pendingPatch{id: s.nextPending, patch: patch, stampedAt: updated.LastUpdated}
	if s.state == StateResolving {
		s.pending = append(s.pending, queued)
	}
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.SaveSettings(callCtx, identity.UID, patch); err != nil {
		s.mu.Lock()
		s.pending = slices.DeleteFunc(s.pending, func(candidate pendingPatch) bool {
			return candidate.id == queued.id
		})
		// The snapshot may have been replaced by a sign-out, another identity
		// or a resolved fetch while the write was in flight.
		rollback := s.identity != nil && s.identity.UID == identity.UID && s.revision == revision
		if rollback {
			s.settings = previous
		}
		s.mu.Unlock()
		if rollback {
			s.logger.Error("settings update rolled back",
				zap.String("uid", identity.UID),
				zap.Error(err))
		} else {
			s.logger.Error("settings update failed after the snapshot was replaced; rollback skipped",
				zap.String("uid", identity.UID),
				zap.Error(err))
		}
		return identity, false, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return identity, true, nil
}

// followUp issues a dedicated remote write after the settings document has
// been saved. Failures are logged only.
func (s *Store) followUp(ctx context.Context, operation string, call func(context.Context) error) {
	callCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := call(callCtx); err != nil {
		s.logger.Warn("remote follow-up write failed",
			zap.String("operation", operation),
			zap.Error(err))
	}
}

func (s *Store) recordActivity(ctx context.Context, identity Identity, action string, details map[string]any) {
	record := ActivityRecord{
		Action:        action,
		UID:           identity.UID,
		Email:         identity.Email,
		IsAnonymous:   identity.IsAnonymous,
		Details:       details,
		Timestamp:     s.clock().UTC(),
		ClientContext: s.clientContext,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.LogActivity(callCtx, record); err != nil {
		s.logger.Debug("activity record dropped", zap.String("action", action), zap.Error(err))
	}
}

func (s *Store) identityLocked() *Identity {
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}
