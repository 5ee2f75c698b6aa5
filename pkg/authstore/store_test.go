package authstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentialSetter interface {
	SetCredentials(ctx context.Context, service string, c Credentials) error
}

type testStore interface {
	Store
	Lister
	credentialSetter
}

func stores(t *testing.T) map[string]testStore {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "auth"))
	require.NoError(t, err)

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]testStore{
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func sampleState() *State {
	return &State{
		Cookies: []Cookie{
			{Name: "sid", Value: "abc123", Domain: ".example.com", Path: "/", Expires: float64(time.Now().Add(time.Hour).Unix()), HTTPOnly: true, Secure: true, SameSite: "Lax"},
			{Name: "pref", Value: "dark", Domain: "example.com", Path: "/", Expires: -1},
		},
		Origins: []OriginStorage{
			{Origin: "https://example.com", LocalStorage: map[string]string{"token": "t0k3n"}},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			in := sampleState()
			before := time.Now()
			require.NoError(t, s.Save(ctx, "work", in))

			out, err := s.Load(ctx, "work")
			require.NoError(t, err)
			require.NotNil(t, out)
			assert.Equal(t, in.Cookies, out.Cookies)
			assert.Equal(t, in.Origins, out.Origins)
			assert.WithinDuration(t, before, out.SavedAt, time.Minute, "save stamps the stored SavedAt")
		})
	}
}

func TestStore_SaveLeavesCallerStateUntouched(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			in := sampleState()
			require.NoError(t, s.Save(ctx, "work", in))
			assert.True(t, in.SavedAt.IsZero(), "caller's SavedAt must stay zero")

			explicit := sampleState()
			at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			explicit.SavedAt = at
			require.NoError(t, s.Save(ctx, "dated", explicit))
			assert.Equal(t, at, explicit.SavedAt)

			out, err := s.Load(ctx, "dated")
			require.NoError(t, err)
			require.NotNil(t, out)
			assert.True(t, at.Equal(out.SavedAt), "explicit SavedAt is stored as given, got %s", out.SavedAt)
		})
	}
}

func TestStore_LoadMissingIsNilNil(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := s.Load(ctx, "nobody")
			assert.NoError(t, err)
			assert.Nil(t, st)
			assert.False(t, s.HasValid(ctx, "nobody", time.Hour))
		})
	}
}

func TestStore_HasValidHonoursMaxAge(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			old := sampleState()
			old.SavedAt = time.Now().Add(-31 * 24 * time.Hour)
			require.NoError(t, s.Save(ctx, "stale", old))
			require.NoError(t, s.Save(ctx, "fresh", sampleState()))

			maxAge := 30 * 24 * time.Hour
			assert.False(t, s.HasValid(ctx, "stale", maxAge))
			assert.True(t, s.HasValid(ctx, "fresh", maxAge))
			assert.True(t, s.HasValid(ctx, "stale", 0), "zero max age disables the check")
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, "p", sampleState()))
			require.NoError(t, s.Save(ctx, "p", &State{Cookies: []Cookie{{Name: "only"}}}))

			out, err := s.Load(ctx, "p")
			require.NoError(t, err)
			require.Len(t, out.Cookies, 1)
			assert.Equal(t, "only", out.Cookies[0].Name)

			names, err := s.Profiles(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"p"}, names)
		})
	}
}

func TestStore_Credentials(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Credentials(ctx, "github")
			assert.ErrorIs(t, err, ErrNoCredentials)

			want := Credentials{Username: "octo", Password: "s3cret", Email: "octo@example.com"}
			require.NoError(t, s.SetCredentials(ctx, "github", want))

			got, err := s.Credentials(ctx, "github")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_RejectsBadNames(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "../etc/passwd", "a/b", `a\b`} {
				assert.ErrorIs(t, s.Save(ctx, bad, sampleState()), ErrInvalidName, bad)
				_, err := s.Load(ctx, bad)
				assert.ErrorIs(t, err, ErrInvalidName, bad)
			}
		})
	}
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "one", sampleState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one.json", entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_CorruptProfile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600))

	_, err = s.Load(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, s.HasValid(context.Background(), "bad", time.Hour))
}

func TestFileStore_CredentialsFromYAML(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	yamlDoc := "acme:\n  username: alice\n  password: hunter2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, CredentialsFile), []byte(yamlDoc), 0o600))

	c, err := s.Credentials(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Login())
	assert.Equal(t, "hunter2", c.Password)
}

func TestState_Helpers(t *testing.T) {
	now := time.Now()
	st := &State{
		SavedAt: now.Add(-time.Hour),
		Cookies: []Cookie{
			{Name: "expired", Expires: float64(now.Add(-time.Minute).Unix())},
			{Name: "session", Expires: -1},
			{Name: "live", Expires: float64(now.Add(time.Hour).Unix())},
		},
	}

	assert.True(t, st.Fresh(2*time.Hour, now))
	assert.False(t, st.Fresh(30*time.Minute, now))

	var names []string
	for _, c := range st.LiveCookies(now) {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"session", "live"}, names)

	var nilState *State
	assert.False(t, nilState.Fresh(time.Hour, now))
	assert.Equal(t, "bob@example.com", Credentials{Email: "bob@example.com"}.Login())
}
