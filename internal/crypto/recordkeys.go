package icrypto

import "github.com/jmcleod/sessionvault/internal/util"

const payloadKeyInfo = "sessionvault:payload:v1"

// DerivePayloadKey derives the per-write payload encryption key from the
// caller's session key and the salt generated for that write.
func DerivePayloadKey(sessionKey, salt []byte) ([]byte, error) {
	return util.DeriveSubkey(sessionKey, salt, payloadKeyInfo)
}

const (
	identityWrapInfo    = "sessionvault:identity-wrap:v1"
	identitySessionInfo = "sessionvault:session-key:v1"
)

// DeriveIdentityKeys splits a passphrase-derived master key into the key that
// wraps the private key at rest and the key that encrypts persisted sessions.
func DeriveIdentityKeys(master []byte) (wrapKey, sessionKey []byte, err error) {
	wrapKey, err = util.DeriveSubkey(master, nil, identityWrapInfo)
	if err != nil {
		return nil, nil, err
	}
	sessionKey, err = util.DeriveSubkey(master, nil, identitySessionInfo)
	if err != nil {
		util.Wipe(wrapKey)
		return nil, nil, err
	}
	return wrapKey, sessionKey, nil
}
