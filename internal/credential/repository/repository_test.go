package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/require"

	"session-hub/internal/credential/domain"
	"session-hub/internal/db/dbtest"
	"session-hub/internal/mongostore/mongotest"
)

// contract runs the behaviour every Repository implementation must share.
func contract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("get missing returns nil", func(t *testing.T) {
		repo := newRepo(t)
		c, err := repo.Get(context.Background(), "94770000000")
		require.NoError(t, err)
		require.Nil(t, c)
	})

	t.Run("put then get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Put(ctx, &domain.Credential{
			Number:         "94771234567",
			CredentialBlob: []byte(`{"registered":true}`),
			KeyMaterial:    []byte(`{"pre-key":1}`),
			UpdatedAt:      at,
		}))

		c, err := repo.Get(ctx, "94771234567")
		require.NoError(t, err)
		require.NotNil(t, c)
		require.Equal(t, "94771234567", c.Number)
		require.Equal(t, `{"registered":true}`, string(c.CredentialBlob))
		require.Equal(t, `{"pre-key":1}`, string(c.KeyMaterial))
		require.True(t, c.UpdatedAt.Equal(at), "UpdatedAt = %v, want %v", c.UpdatedAt, at)
	})

	t.Run("nil key material round trips", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Put(ctx, &domain.Credential{Number: "1", CredentialBlob: []byte("x"), UpdatedAt: time.Now()}))
		c, err := repo.Get(ctx, "1")
		require.NoError(t, err)
		require.Empty(t, c.KeyMaterial)
	})

	t.Run("last write wins on updatedAt", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Put(ctx, &domain.Credential{Number: "5", CredentialBlob: []byte("new"), UpdatedAt: t0.Add(time.Minute)}))
		require.NoError(t, repo.Put(ctx, &domain.Credential{Number: "5", CredentialBlob: []byte("stale"), UpdatedAt: t0}))

		c, err := repo.Get(ctx, "5")
		require.NoError(t, err)
		require.Equal(t, "new", string(c.CredentialBlob))

		require.NoError(t, repo.Put(ctx, &domain.Credential{Number: "5", CredentialBlob: []byte("newer"), UpdatedAt: t0.Add(2 * time.Minute)}))
		c, err = repo.Get(ctx, "5")
		require.NoError(t, err)
		require.Equal(t, "newer", string(c.CredentialBlob))
	})

	t.Run("delete and list", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for i, n := range []string{"111", "222", "333"} {
			require.NoError(t, repo.Put(ctx, &domain.Credential{Number: n, CredentialBlob: []byte("b"), UpdatedAt: t0.Add(time.Duration(i) * time.Minute)}))
		}
		require.NoError(t, repo.Delete(ctx, "222"))
		require.NoError(t, repo.Delete(ctx, "does-not-exist"))

		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "333", list[0].Number)
		require.Equal(t, "111", list[1].Number)
	})

	t.Run("put requires number", func(t *testing.T) {
		repo := newRepo(t)
		require.Error(t, repo.Put(context.Background(), &domain.Credential{}))
	})

	t.Run("concurrent puts keep one row", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		t0 := time.Now().UTC()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = repo.Put(ctx, &domain.Credential{Number: "77", CredentialBlob: []byte{byte(i)}, UpdatedAt: t0.Add(time.Duration(i) * time.Second)})
			}(i)
		}
		wg.Wait()
		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		c, err := repo.Get(ctx, "77")
		require.NoError(t, err)
		require.Equal(t, []byte{7}, c.CredentialBlob)
	})
}

func TestMemoryRepository(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewMemoryRepository() })
}

func TestSQLRepository_SQLite(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewSQLRepository(dbtest.SQLite(t)) })
}

func TestSQLRepository_Postgres(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewSQLRepository(dbtest.Postgres(t)) })
}

func TestMongoRepository(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewMongoRepository(mongotest.Database(t)) })
}

func TestSealedRepository(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	contract(t, func(t *testing.T) Repository {
		r, err := NewSealedRepository(NewMemoryRepository(), id.String())
		require.NoError(t, err)
		return r
	})
}

func TestSealedRepository_EncryptsAtRest(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	conn := dbtest.SQLite(t)
	inner := NewSQLRepository(conn)
	sealed, err := NewSealedRepository(inner, id.String())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sealed.Put(ctx, &domain.Credential{
		Number:         "94771234567",
		CredentialBlob: []byte("secret-creds"),
		KeyMaterial:    []byte("secret-keys"),
		UpdatedAt:      time.Now(),
	}))

	raw := rawBlob(t, conn, "94771234567")
	require.NotContains(t, string(raw), "secret-creds")
	require.True(t, len(raw) > len(ageHeader) && string(raw[:len(ageHeader)]) == string(ageHeader))

	c, err := sealed.Get(ctx, "94771234567")
	require.NoError(t, err)
	require.Equal(t, "secret-creds", string(c.CredentialBlob))
	require.Equal(t, "secret-keys", string(c.KeyMaterial))
}

func TestSealedRepository_ReadsLegacyPlaintext(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	inner := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, inner.Put(ctx, &domain.Credential{Number: "9", CredentialBlob: []byte("plain"), UpdatedAt: time.Now()}))

	sealed, err := NewSealedRepository(inner, id.String())
	require.NoError(t, err)
	c, err := sealed.Get(ctx, "9")
	require.NoError(t, err)
	require.Equal(t, "plain", string(c.CredentialBlob))
}

func TestSealedRepository_WrongIdentity(t *testing.T) {
	a, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	b, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	inner := NewMemoryRepository()
	ctx := context.Background()

	writer, err := NewSealedRepository(inner, a.String())
	require.NoError(t, err)
	require.NoError(t, writer.Put(ctx, &domain.Credential{Number: "9", CredentialBlob: []byte("x"), UpdatedAt: time.Now()}))

	reader, err := NewSealedRepository(inner, b.String())
	require.NoError(t, err)
	_, err = reader.Get(ctx, "9")
	require.Error(t, err)
}

func TestNewSealedRepository_InvalidIdentity(t *testing.T) {
	_, err := NewSealedRepository(NewMemoryRepository(), "AGE-SECRET-KEY-bogus")
	require.Error(t, err)
}

func rawBlob(t *testing.T, conn *sql.DB, number string) []byte {
	t.Helper()
	var b []byte
	require.NoError(t, conn.QueryRow(`SELECT credential_blob FROM session_credentials WHERE number = $1`, number).Scan(&b))
	return b
}
