package persistence

import "time"

// CurrentSchemaVersion tags every persisted record.
const CurrentSchemaVersion = 1

// SessionData is the authenticatable state of a session as it is serialized
// before encryption. It never holds a plaintext private key or passphrase:
// EncryptedPrivateKey is key material that is already encrypted at rest and is
// wrapped a second time by the payload encryption.
type SessionData struct {
	SessionID           string    `json:"sessionId"`
	Username            string    `json:"username"`
	PublicKey           []byte    `json:"publicKey"`
	EncryptedPrivateKey []byte    `json:"wrappedKey"`
	Salt                []byte    `json:"salt"`
	IV                  []byte    `json:"iv"`
	CreatedAt           time.Time `json:"createdAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
	LastActivityAt      time.Time `json:"lastActivityAt"`
	State               string    `json:"state"`
	Version             int       `json:"version"`
}

// Metadata is the unencrypted liveness record stored next to the payload.
type Metadata struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Version   int       `json:"version"`
	// CreatedAt lets the expiry cap be enforced on extension without the key.
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// EncryptedSessionData is the persisted form of a session as read back from
// storage: the base64 payload and integrity tag plus the plaintext metadata.
type EncryptedSessionData struct {
	EncryptedPayload string
	IntegrityCheck   string
	Metadata         Metadata
}

// dataEntry is the JSON shape of the payload entry.
type dataEntry struct {
	EncryptedPayload string `json:"encryptedPayload"`
	IntegrityCheck   string `json:"integrityCheck"`
}
