package domain

import "time"

// Credential is the persisted authentication state of one messaging session.
// CredentialBlob and KeyMaterial are opaque transport payloads.
type Credential struct {
	Number         string
	CredentialBlob []byte
	KeyMaterial    []byte // nil when the transport has not produced key material yet
	UpdatedAt      time.Time
}

// Summary is the listing view of a persisted credential.
type Summary struct {
	Number    string
	UpdatedAt time.Time
}
