package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/escalation"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
)

// Mask in a password field of an update keeps the stored password.
const Mask = "********"

// Setting keys as stored in the settings table.
const (
	keyNodeName       = "node_name"
	keyGroupName      = "group_name"
	keyWiFiSSID       = "wifi_ssid"
	keyWiFiPassword   = "wifi_password"
	keyBrokerHost     = "mqtt_host"
	keyBrokerPort     = "mqtt_port"
	keyBrokerUser     = "mqtt_user"
	keyBrokerPassword = "mqtt_password"
	keyPortalUser     = "portal_user"
	keyPortalHash     = "portal_password_hash"
)

// Settings is the full set of device settings.
type Settings struct {
	NodeName       string `json:"node_name"`
	GroupName      string `json:"group_name"`
	WiFiSSID       string `json:"wifi_ssid"`
	WiFiPassword   string `json:"wifi_password"`
	BrokerHost     string `json:"mqtt_host"`
	BrokerPort     string `json:"mqtt_port"`
	BrokerUser     string `json:"mqtt_user"`
	BrokerPassword string `json:"mqtt_password"`
	PortalUser     string `json:"portal_user"`
	// PortalPassword is plaintext on input to Update and always Mask or
	// empty on output.
	PortalPassword string `json:"portal_password"`
}

// Redacted returns a copy with every set password replaced by Mask.
func (s Settings) Redacted() Settings {
	for _, p := range []*string{&s.WiFiPassword, &s.BrokerPassword, &s.PortalPassword} {
		if *p != "" {
			*p = Mask
		}
	}
	return s
}

// ChangeSet reports which groups of settings an update touched.
type ChangeSet uint8

const (
	ChangedIdentity ChangeSet = 1 << iota
	ChangedWiFi
	ChangedBroker
	ChangedPortal
)

// Has reports whether c includes any of other.
func (c ChangeSet) Has(other ChangeSet) bool {
	return c&other != 0
}

// Boot is one row of the boot log.
type Boot struct {
	ID          string
	StartedAt   time.Time
	ResetReason string
}

// Logger is the logging surface the store needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Store is the persisted settings store.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	db       *database.DB
	defaults config.DeviceConfig
	resetter escalation.Resetter
	logger   Logger

	mu         sync.RWMutex
	loaded     bool
	current    Settings
	portalHash string
	pending    ChangeSet

	changes chan struct{}
}

// NewStore creates a store over db. Call Load before use.
func NewStore(db *database.DB, defaults config.DeviceConfig, resetter escalation.Resetter, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{
		db:       db,
		defaults: defaults,
		resetter: resetter,
		logger:   logger,
		changes:  make(chan struct{}, 1),
	}
}

// factory returns the defaults as Settings. Node names are lower-cased
// the same way updates are.
func (s *Store) factory() Settings {
	return Settings{
		NodeName:       strings.ToLower(s.defaults.NodeName),
		GroupName:      s.defaults.GroupName,
		WiFiSSID:       s.defaults.WiFi.SSID,
		WiFiPassword:   s.defaults.WiFi.Password,
		BrokerHost:     s.defaults.Broker.Host,
		BrokerPort:     s.defaults.Broker.Port,
		BrokerUser:     s.defaults.Broker.Username,
		BrokerPassword: s.defaults.Broker.Password,
		PortalUser:     s.defaults.Portal.Username,
	}
}

// Load reads saved settings, filling unsaved keys from the defaults.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	saved := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scanning setting: %w", err)
		}
		saved[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating settings: %w", err)
	}

	cur := s.factory()
	for key, field := range fieldsOf(&cur) {
		if v, ok := saved[key]; ok {
			*field = v
		}
	}

	hash, ok := saved[keyPortalHash]
	if !ok && s.defaults.Portal.Password != "" {
		if hash, err = HashPassword(s.defaults.Portal.Password); err != nil {
			return fmt.Errorf("hashing default portal password: %w", err)
		}
	}
	if hash != "" {
		cur.PortalPassword = Mask
	}

	if err := cur.Validate(); err != nil {
		s.logger.Warn("saved settings failed validation", "error", err)
	}

	s.mu.Lock()
	s.current = cur
	s.portalHash = hash
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("settings loaded", "saved_keys", len(saved), "node_name", cur.NodeName)
	return nil
}

// fieldsOf maps storage keys to the plain-text fields of st.
func fieldsOf(st *Settings) map[string]*string {
	return map[string]*string{
		keyNodeName:       &st.NodeName,
		keyGroupName:      &st.GroupName,
		keyWiFiSSID:       &st.WiFiSSID,
		keyWiFiPassword:   &st.WiFiPassword,
		keyBrokerHost:     &st.BrokerHost,
		keyBrokerPort:     &st.BrokerPort,
		keyBrokerUser:     &st.BrokerUser,
		keyBrokerPassword: &st.BrokerPassword,
		keyPortalUser:     &st.PortalUser,
	}
}

// Update merges in into the current settings, validates and saves them.
//
// Merge rules:
//   - NodeName, GroupName, WiFiSSID, BrokerHost, BrokerPort: empty keeps
//     the current value. NodeName is lower-cased.
//   - BrokerUser, PortalUser: replaced as given (PortalUser empty keeps).
//   - WiFiPassword, BrokerPassword, PortalPassword: Mask keeps the current
//     value; anything else replaces it. An empty PortalPassword disables
//     portal authentication.
//
// Returns:
//   - ChangeSet: Groups that changed (zero if nothing did)
//   - error: Joined FieldErrors, or a storage error
func (s *Store) Update(ctx context.Context, in Settings) (ChangeSet, error) {
	s.mu.RLock()
	if !s.loaded {
		s.mu.RUnlock()
		return 0, ErrNotLoaded
	}
	old, oldHash := s.current, s.portalHash
	s.mu.RUnlock()

	next := merge(old, in)
	if err := next.Validate(); err != nil {
		return 0, err
	}

	hash := oldHash
	if in.PortalPassword != Mask {
		hash = ""
		if in.PortalPassword != "" {
			h, err := HashPassword(in.PortalPassword)
			if err != nil {
				return 0, fmt.Errorf("hashing portal password: %w", err)
			}
			hash = h
		}
	}
	next.PortalPassword = ""
	if hash != "" {
		next.PortalPassword = Mask
	}

	changed := diff(old, next)
	if hash != oldHash {
		changed |= ChangedPortal
	}
	if changed == 0 {
		return 0, nil
	}

	if err := s.save(ctx, next, hash); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.current = next
	s.portalHash = hash
	s.pending |= changed
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}

	s.logger.Info("settings updated", "node_name", next.NodeName, "changed", uint8(changed))
	return changed, nil
}

func merge(old, in Settings) Settings {
	next := old
	keepIfEmpty := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	keepIfMasked := func(dst *string, v string) {
		if v != Mask {
			*dst = v
		}
	}

	keepIfEmpty(&next.NodeName, strings.ToLower(in.NodeName))
	keepIfEmpty(&next.GroupName, in.GroupName)
	keepIfEmpty(&next.WiFiSSID, in.WiFiSSID)
	keepIfMasked(&next.WiFiPassword, in.WiFiPassword)
	keepIfEmpty(&next.BrokerHost, in.BrokerHost)
	keepIfEmpty(&next.BrokerPort, in.BrokerPort)
	next.BrokerUser = in.BrokerUser
	keepIfMasked(&next.BrokerPassword, in.BrokerPassword)
	keepIfEmpty(&next.PortalUser, in.PortalUser)
	return next
}

func diff(a, b Settings) ChangeSet {
	var c ChangeSet
	if a.NodeName != b.NodeName || a.GroupName != b.GroupName {
		c |= ChangedIdentity
	}
	if a.WiFiSSID != b.WiFiSSID || a.WiFiPassword != b.WiFiPassword {
		c |= ChangedWiFi
	}
	if a.BrokerHost != b.BrokerHost || a.BrokerPort != b.BrokerPort ||
		a.BrokerUser != b.BrokerUser || a.BrokerPassword != b.BrokerPassword {
		c |= ChangedBroker
	}
	if a.PortalUser != b.PortalUser {
		c |= ChangedPortal
	}
	return c
}

func (s *Store) save(ctx context.Context, st Settings, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning settings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	upsert := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	for key, field := range fieldsOf(&st) {
		if _, err := tx.ExecContext(ctx, upsert, key, *field, now); err != nil {
			return fmt.Errorf("saving %s: %w", key, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsert, keyPortalHash, hash, now); err != nil {
		return fmt.Errorf("saving %s: %w", keyPortalHash, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	return nil
}

// Changes signals after every successful Update. Drain it, then call
// TakeChanges for what changed.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// TakeChanges returns and clears the groups changed since the last call.
func (s *Store) TakeChanges() ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.pending
	s.pending = 0
	return c
}

// ClearAllAndReset deletes every saved setting and requests a device
// reset. The reset is requested even if the wipe fails.
func (s *Store) ClearAllAndReset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings`)
	if err != nil {
		err = fmt.Errorf("clearing settings: %w", err)
		s.logger.Warn("factory reset could not clear settings", "error", err)
	} else {
		s.mu.Lock()
		s.current = s.factory()
		s.portalHash = ""
		s.mu.Unlock()
		s.logger.Info("settings cleared")
	}

	s.resetter.ResetDevice("factory reset")
	return err
}

// Snapshot returns the current settings with passwords redacted.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Redacted()
}

// NodeName returns the node identity.
func (s *Store) NodeName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.NodeName
}

// GroupName returns the group identity.
func (s *Store) GroupName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.GroupName
}

// WiFiCredentials returns the network to join.
func (s *Store) WiFiCredentials() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.WiFiSSID, s.current.WiFiPassword
}

// BrokerEndpoint returns the broker host and port. The host is empty when
// no broker is configured or the saved port is unusable.
func (s *Store) BrokerEndpoint() (string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	port, ok := parsePort(s.current.BrokerPort)
	if !ok {
		return "", 0
	}
	return s.current.BrokerHost, port
}

// BrokerCredentials returns the broker username and password.
func (s *Store) BrokerCredentials() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.BrokerUser, s.current.BrokerPassword
}

// PortalAuthRequired reports whether a portal password is set.
func (s *Store) PortalAuthRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portalHash != ""
}

// VerifyPortalLogin checks operator credentials. With no password set any
// login for the configured user succeeds.
func (s *Store) VerifyPortalLogin(username, password string) (bool, error) {
	s.mu.RLock()
	user, hash := s.current.PortalUser, s.portalHash
	s.mu.RUnlock()

	if username != user {
		return false, nil
	}
	if hash == "" {
		return true, nil
	}
	return VerifyPassword(password, hash)
}

// RecordBoot appends bootID to the boot log and returns the previous
// boot, if any.
func (s *Store) RecordBoot(ctx context.Context, bootID string, startedAt time.Time) (*Boot, error) {
	var prev Boot
	var started string
	err := s.db.QueryRowContext(ctx,
		`SELECT boot_id, started_at, reset_reason FROM boot_log ORDER BY rowid DESC LIMIT 1`,
	).Scan(&prev.ID, &started, &prev.ResetReason)

	var prevPtr *Boot
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading boot log: %w", err)
	default:
		prev.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		prevPtr = &prev
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO boot_log (boot_id, started_at) VALUES (?, ?)`,
		bootID, startedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return prevPtr, fmt.Errorf("recording boot: %w", err)
	}
	return prevPtr, nil
}

// RecordResetReason stores why boot bootID is ending.
func (s *Store) RecordResetReason(ctx context.Context, bootID, reason string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE boot_log SET reset_reason = ? WHERE boot_id = ?`, reason, bootID,
	); err != nil {
		return fmt.Errorf("recording reset reason: %w", err)
	}
	return nil
}
