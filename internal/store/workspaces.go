package store

import (
	"database/sql"
	"fmt"
)

// EnsureWorkspace inserts workspace if absent, leaving an existing row
// untouched.
func (s *IndexDB) EnsureWorkspace(slug, displayName string) error {
	_, err := s.db.Exec(
		`INSERT INTO workspaces (slug, display_name) VALUES (?, ?) ON CONFLICT(slug) DO NOTHING`,
		slug, displayName,
	)
	if err != nil {
		return fmt.Errorf("ensure workspace %q: %w", slug, err)
	}
	return nil
}

// PutPolicyOverlay upserts a workspace's serialized policy overlay. The
// caller (policy.Overlay in internal/policy) owns the overlay's JSON shape; this layer just
// persists opaque bytes keyed by workspace.
func (s *IndexDB) PutPolicyOverlay(workspace, overlayJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO workspace_policies (workspace, overlay_json, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(workspace) DO UPDATE SET overlay_json = excluded.overlay_json, updated_at = excluded.updated_at`,
		workspace, overlayJSON,
	)
	if err != nil {
		return fmt.Errorf("put policy overlay for %q: %w", workspace, err)
	}
	return nil
}

// PolicyOverlay returns the raw overlay JSON for workspace, or ok=false when
// no overlay has been set (callers then fall back to defaults).
func (s *IndexDB) PolicyOverlay(workspace string) (string, bool, error) {
	var overlayJSON string
	err := s.db.QueryRow(`SELECT overlay_json FROM workspace_policies WHERE workspace = ?`, workspace).Scan(&overlayJSON)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query policy overlay for %q: %w", workspace, err)
	}
	return overlayJSON, true, nil
}

// RegisterKey records that keyID is authorized for workspace.
func (s *IndexDB) RegisterKey(workspace, keyID string) error {
	_, err := s.db.Exec(
		`INSERT INTO workspace_keys (workspace, key_id) VALUES (?, ?) ON CONFLICT(workspace, key_id) DO NOTHING`,
		workspace, keyID,
	)
	if err != nil {
		return fmt.Errorf("register key for %q: %w", workspace, err)
	}
	return nil
}

// KeyAuthorized reports whether keyID is registered for workspace.
func (s *IndexDB) KeyAuthorized(workspace, keyID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM workspace_keys WHERE workspace = ? AND key_id = ?`,
		workspace, keyID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check key for %q: %w", workspace, err)
	}
	return count > 0, nil
}
