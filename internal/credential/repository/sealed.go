package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"filippo.io/age"

	"session-hub/internal/credential/domain"
)

// ageHeader prefixes every binary age file; payloads without it were stored before sealing
// was enabled and are returned unchanged.
var ageHeader = []byte("age-encryption.org/v1\n")

// SealedRepository encrypts credential payloads with age before handing them to the wrapped
// repository and decrypts them on the way out. Numbers and timestamps stay in clear text so
// listing and last-write-wins comparisons keep working.
type SealedRepository struct {
	inner     Repository
	identity  *age.X25519Identity
	recipient age.Recipient
}

// NewSealedRepository wraps inner with age encryption using the given AGE-SECRET-KEY-1 identity.
func NewSealedRepository(inner Repository, identity string) (*SealedRepository, error) {
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("credential: parsing age identity: %w", err)
	}
	return &SealedRepository{inner: inner, identity: id, recipient: id.Recipient()}, nil
}

// Get decrypts the stored payloads.
func (r *SealedRepository) Get(ctx context.Context, number string) (*domain.Credential, error) {
	c, err := r.inner.Get(ctx, number)
	if err != nil || c == nil {
		return c, err
	}
	if c.CredentialBlob, err = r.open(c.CredentialBlob); err != nil {
		return nil, fmt.Errorf("credential: decrypting blob for %s: %w", number, err)
	}
	if c.KeyMaterial, err = r.open(c.KeyMaterial); err != nil {
		return nil, fmt.Errorf("credential: decrypting key material for %s: %w", number, err)
	}
	return c, nil
}

// Put encrypts the payloads of a copy of c and stores it.
func (r *SealedRepository) Put(ctx context.Context, c *domain.Credential) error {
	if c == nil {
		return r.inner.Put(ctx, c)
	}
	sealed := *c
	var err error
	if sealed.CredentialBlob, err = r.seal(c.CredentialBlob); err != nil {
		return fmt.Errorf("credential: encrypting blob: %w", err)
	}
	if sealed.KeyMaterial, err = r.seal(c.KeyMaterial); err != nil {
		return fmt.Errorf("credential: encrypting key material: %w", err)
	}
	return r.inner.Put(ctx, &sealed)
}

// Delete delegates to the wrapped repository.
func (r *SealedRepository) Delete(ctx context.Context, number string) error {
	return r.inner.Delete(ctx, number)
}

// List delegates to the wrapped repository.
func (r *SealedRepository) List(ctx context.Context) ([]domain.Summary, error) {
	return r.inner.List(ctx)
}

func (r *SealedRepository) seal(plaintext []byte) ([]byte, error) {
	if plaintext == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r.recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *SealedRepository) open(ciphertext []byte) ([]byte, error) {
	if ciphertext == nil || !bytes.HasPrefix(ciphertext, ageHeader) {
		return ciphertext, nil
	}
	rd, err := age.Decrypt(bytes.NewReader(ciphertext), r.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(rd)
}
