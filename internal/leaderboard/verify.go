package leaderboard

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverSigner recovers the address that produced the signature over the
// message under the EIP-191 personal-sign scheme. Pure local computation;
// accepts the recovery byte as 27/28 (wallet convention) or 0/1.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d",
			crypto.SignatureLength, len(sig))
	}

	// Work on a copy so the caller's bytes stay untouched.
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if v := normalized[crypto.RecoveryIDOffset]; v > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", v)
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
