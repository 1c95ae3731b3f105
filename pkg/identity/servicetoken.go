package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// ServiceTokenVerifier authenticates machine callers against a static set
// of pre-shared tokens. Tokens are held as SHA-256 digests so a process
// dump never yields a usable credential, and comparison is constant time.
type ServiceTokenVerifier struct {
	// digest (hex) -> principal id
	principals map[string]string
}

// ParseServiceTokens builds a verifier from the configured
// "token=principal,token=principal" list.
func ParseServiceTokens(spec string) (*ServiceTokenVerifier, error) {
	principals := make(map[string]string)

	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		token, principalID, ok := strings.Cut(pair, "=")
		if !ok || token == "" || principalID == "" {
			return nil, fmt.Errorf("malformed service token entry %q: want token=principal", pair)
		}
		principals[digest(token)] = principalID
	}

	if len(principals) == 0 {
		return nil, fmt.Errorf("no service tokens configured")
	}

	return &ServiceTokenVerifier{principals: principals}, nil
}

// Verify implements Verifier.
func (v *ServiceTokenVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	presented := []byte(digest(credential))

	// Walk every entry so timing never narrows down which token matched.
	var principalID string
	for d, p := range v.principals {
		if subtle.ConstantTimeCompare(presented, []byte(d)) == 1 {
			principalID = p
		}
	}
	if principalID == "" {
		return nil, ErrInvalidCredential
	}

	return &Identity{UserID: principalID, Method: MethodServiceToken}, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
