package icrypto

import "encoding/binary"

// Domain labels keep an AAD for one purpose from verifying under another.
const (
	domainSessionPayload = "sessionvault/session-payload"
	domainIdentityKey    = "sessionvault/identity-key"
)

// AADSessionPayload binds a persisted payload to its session id and schema
// version, so a payload swapped in from another session fails to open.
func AADSessionPayload(sessionID string, version int) []byte {
	var a aad
	a.field([]byte(domainSessionPayload))
	a.field([]byte(sessionID))
	a.uint32(uint32(version))
	return a
}

// AADIdentityKey binds an at-rest private key to the identity that owns it.
func AADIdentityKey(username string, publicKey []byte, version int) []byte {
	var a aad
	a.field([]byte(domainIdentityKey))
	a.field([]byte(username))
	a.field(publicKey)
	a.uint32(uint32(version))
	return a
}

// aad is built from length-prefixed fields so that no two field sequences
// encode to the same bytes.
type aad []byte

func (a *aad) field(b []byte) {
	a.uint32(uint32(len(b)))
	*a = append(*a, b...)
}

func (a *aad) uint32(v uint32) {
	*a = binary.BigEndian.AppendUint32(*a, v)
}
