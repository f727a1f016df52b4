package mlscrypto

import "crypto/ed25519"

// Sign signs data with this member's group signing key, used to
// authenticate governance actions carried alongside MLS traffic.
func (h *Handle) Sign(data []byte) []byte {
	return ed25519.Sign(h.sigKey, data)
}

// VerifyMember checks a signature against the verification key on file for
// identity, as recorded in the current roster.
func (h *Handle) VerifyMember(identity string, data, signature []byte) bool {
	for _, m := range h.state.Members {
		if string(m.Identity) == identity {
			return ed25519.Verify(m.SigPub, data, signature)
		}
	}
	return false
}

// OwnIdentity returns this member's own identity string, derived from its
// roster entry.
func (h *Handle) OwnIdentity() string {
	if h.state.OwnLeafIndex < 0 || h.state.OwnLeafIndex >= len(h.state.Members) {
		return ""
	}
	return string(h.state.Members[h.state.OwnLeafIndex].Identity)
}
