package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/migrations"
)

type recordingResetter struct {
	reasons []string
}

func (r *recordingResetter) ResetDevice(reason string) {
	r.reasons = append(r.reasons, reason)
}

func testDefaults() config.DeviceConfig {
	return config.DeviceConfig{
		NodeName:  "ESP01",
		GroupName: "esps",
		WiFi:      config.WiFiDefaultsConfig{SSID: "factory", Password: "factorypass"},
		Broker:    config.BrokerConfig{Port: "1883"},
		Portal:    config.PortalUserConfig{Username: "admin"},
	}
}

func openStore(t *testing.T, path string, defaults config.DeviceConfig) (*Store, *recordingResetter) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: path, WALMode: true, BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	_, err = db.Migrate(context.Background(), migrations.FS)
	require.NoError(t, err)

	rst := &recordingResetter{}
	s := NewStore(db, defaults, rst, nil)
	require.NoError(t, s.Load(context.Background()))
	return s, rst
}

func newTestStore(t *testing.T) (*Store, *recordingResetter) {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "node.db"), testDefaults())
}

func TestStore_DefaultsBeforeAnySave(t *testing.T) {
	s, _ := newTestStore(t)

	assert.Equal(t, "esp01", s.NodeName(), "node names are lower-cased")
	assert.Equal(t, "esps", s.GroupName())
	ssid, pass := s.WiFiCredentials()
	assert.Equal(t, "factory", ssid)
	assert.Equal(t, "factorypass", pass)

	host, port := s.BrokerEndpoint()
	assert.Empty(t, host, "no broker configured")
	assert.Equal(t, 1883, port)

	assert.False(t, s.PortalAuthRequired())
	ok, err := s.VerifyPortalLogin("admin", "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_UpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, _ := openStore(t, path, testDefaults())
	ctx := context.Background()

	changed, err := s.Update(ctx, Settings{
		NodeName:       "Dev1",
		BrokerHost:     "10.0.0.2",
		BrokerPort:     "8883",
		BrokerUser:     "node",
		BrokerPassword: "secret",
		WiFiPassword:   Mask,
		PortalPassword: "hunter22",
	})
	require.NoError(t, err)
	assert.True(t, changed.Has(ChangedIdentity))
	assert.True(t, changed.Has(ChangedBroker))
	assert.True(t, changed.Has(ChangedPortal))
	assert.False(t, changed.Has(ChangedWiFi))

	select {
	case <-s.Changes():
	default:
		t.Fatal("no change notification")
	}
	assert.Equal(t, changed, s.TakeChanges())
	assert.Zero(t, s.TakeChanges())

	host, port := s.BrokerEndpoint()
	assert.Equal(t, "10.0.0.2", host)
	assert.Equal(t, 8883, port)
	assert.Equal(t, "dev1", s.NodeName())

	snap := s.Snapshot()
	assert.Equal(t, Mask, snap.BrokerPassword)
	assert.Equal(t, Mask, snap.PortalPassword)
	assert.Equal(t, Mask, snap.WiFiPassword)

	ok, err := s.VerifyPortalLogin("admin", "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.VerifyPortalLogin("admin", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	// A second store over the same file sees the saved values.
	reopened, _ := openStore(t, path, testDefaults())
	assert.Equal(t, "dev1", reopened.NodeName())
	user, pass := reopened.BrokerCredentials()
	assert.Equal(t, "node", user)
	assert.Equal(t, "secret", pass)
	assert.True(t, reopened.PortalAuthRequired())
}

func TestStore_UpdateNoChange(t *testing.T) {
	s, _ := newTestStore(t)

	changed, err := s.Update(context.Background(), Settings{WiFiPassword: Mask, BrokerPassword: Mask, PortalPassword: Mask})
	require.NoError(t, err)
	assert.Zero(t, changed)

	select {
	case <-s.Changes():
		t.Fatal("unexpected change notification")
	default:
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Update(context.Background(), Settings{
		NodeName:   "kitchen-light",
		GroupName:  "a/b",
		BrokerPort: "99999",
	})
	require.ErrorIs(t, err, ErrInvalid)

	fields := map[string]bool{}
	for _, fe := range FieldErrors(err) {
		fields[fe.Field] = true
	}
	assert.Equal(t, map[string]bool{"node_name": true, "group_name": true, "mqtt_port": true}, fields)
	assert.Equal(t, "esp01", s.NodeName(), "rejected update leaves settings untouched")
}

func TestStore_ClearAllAndReset(t *testing.T) {
	s, rst := newTestStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, Settings{NodeName: "dev9", PortalPassword: "hunter22", WiFiPassword: Mask, BrokerPassword: Mask})
	require.NoError(t, err)

	require.NoError(t, s.ClearAllAndReset(ctx))
	assert.Equal(t, []string{"factory reset"}, rst.reasons)
	assert.Equal(t, "esp01", s.NodeName())
	assert.False(t, s.PortalAuthRequired())

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, "esp01", s.NodeName())
}

func TestStore_DefaultPortalPassword(t *testing.T) {
	defaults := testDefaults()
	defaults.Portal.Password = "factorysecret"
	s, _ := openStore(t, filepath.Join(t.TempDir(), "node.db"), defaults)

	assert.True(t, s.PortalAuthRequired())
	ok, err := s.VerifyPortalLogin("admin", "factorysecret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyPortalLogin("root", "factorysecret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_UpdateBeforeLoad(t *testing.T) {
	s := NewStore(nil, testDefaults(), &recordingResetter{}, nil)
	_, err := s.Update(context.Background(), Settings{})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestStore_BootLog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	prev, err := s.RecordBoot(ctx, "boot-1", t0)
	require.NoError(t, err)
	assert.Nil(t, prev)

	require.NoError(t, s.RecordResetReason(ctx, "boot-1", "broker unreachable after 30 attempts (rc 5)"))

	prev, err = s.RecordBoot(ctx, "boot-2", t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "boot-1", prev.ID)
	assert.True(t, prev.StartedAt.Equal(t0))
	assert.Contains(t, prev.ResetReason, "broker unreachable")
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("battery staple", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("x", "$bcrypt$nope")
	assert.True(t, errors.Is(err, ErrInvalidHash))
}

func TestValidate(t *testing.T) {
	base := Settings{NodeName: "dev1", GroupName: "all", BrokerPort: "1883", PortalUser: "admin"}

	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"valid", func(*Settings) {}, ""},
		{"node too long", func(s *Settings) { s.NodeName = "abcdefghijklmnop" }, "node_name"},
		{"node uppercase", func(s *Settings) { s.NodeName = "Dev1" }, "node_name"},
		{"group wildcard", func(s *Settings) { s.GroupName = "all+" }, "group_name"},
		{"group empty", func(s *Settings) { s.GroupName = "" }, "group_name"},
		{"short wpa", func(s *Settings) { s.WiFiPassword = "short" }, "wifi_password"},
		{"open network", func(s *Settings) { s.WiFiSSID = "cafe"; s.WiFiPassword = "" }, ""},
		{"port letters", func(s *Settings) { s.BrokerPort = "mqtt" }, "mqtt_port"},
		{"port zero", func(s *Settings) { s.BrokerPort = "0" }, "mqtt_port"},
		{"host with space", func(s *Settings) { s.BrokerHost = "my broker" }, "mqtt_host"},
		{"long broker user", func(s *Settings) { s.BrokerUser = "abcdefghijklmnopqrstuvwxyz0123456" }, "mqtt_user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			fes := FieldErrors(err)
			require.Len(t, fes, 1)
			assert.Equal(t, tt.field, fes[0].Field)
		})
	}
}
