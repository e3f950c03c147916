// Package crypto implements the OSDP secure-channel cryptography core
// (spec.md §4.3): AES-128 ECB as the sole primitive, with session-key
// derivation, cryptogram computation, a two-key CBC-MAC variant, and
// payload CBC encryption seeded from the previous frame's rolling MAC.
//
// None of the retrieved example repositories implement AES primitives
// (CANopen, the teacher, has no cryptography layer at all), so this
// package is built directly on the Go standard library (crypto/aes,
// crypto/cipher) rather than a third-party package — see DESIGN.md for
// why no ecosystem crypto library fits: OSDP's key diversification and
// cryptogram math require raw single-block ECB, a mode golang.org/x/crypto
// deliberately does not expose because it is unsafe for general use.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

const BlockSize = 16

// ecbEncryptBlock runs exactly one AES-128 ECB encryption: ciphertext =
// AES-ECB(key, plaintext). OSDP never encrypts more than one block with
// ECB directly; multi-block payload encryption always goes through CBC
// (see EncryptPayload).
func ecbEncryptBlock(key [BlockSize]byte, plaintext [BlockSize]byte) [BlockSize]byte {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// AES-128 keys are always valid 16-byte keys; this cannot fail.
		panic(err)
	}
	var out [BlockSize]byte
	block.Encrypt(out[:], plaintext[:])
	return out
}

// DiversifyKey derives a per-PD SCBK from a master key and the PD's
// 8-byte client id, for SCBK-D (default key) provisioning mode
// (spec.md §4.3, §4.4 InstallMode).
func DiversifyKey(master [BlockSize]byte, cuid [8]byte) [BlockSize]byte {
	var block [BlockSize]byte
	copy(block[:8], cuid[:])
	// Remaining 8 bytes are the fixed diversification padding.
	for i := 8; i < BlockSize; i++ {
		block[i] = 0x00
	}
	return ecbEncryptBlock(master, block)
}

// SessionKeys holds the three keys derived from the SCBK and RND.A at
// the start of a secure-channel handshake (spec.md §4.3).
type SessionKeys struct {
	Enc  [BlockSize]byte
	Mac1 [BlockSize]byte
	Mac2 [BlockSize]byte
}

func sessionKeyBlock(tag byte, rndA [8]byte) [BlockSize]byte {
	var block [BlockSize]byte
	block[0] = tag
	copy(block[1:7], rndA[:6])
	// block[7:16] stays zero padding.
	return block
}

// DeriveSessionKeys computes S-ENC, S-MAC1 and S-MAC2 from the SCBK and
// the CP's random challenge, bit-exact with the layout spec.md §4.3
// mandates.
func DeriveSessionKeys(scbk [BlockSize]byte, rndA [8]byte) SessionKeys {
	return SessionKeys{
		Enc:  ecbEncryptBlock(scbk, sessionKeyBlock(0x01, rndA)),
		Mac1: ecbEncryptBlock(scbk, sessionKeyBlock(0x02, rndA)),
		Mac2: ecbEncryptBlock(scbk, sessionKeyBlock(0x03, rndA)),
	}
}

// ClientCryptogram is what the PD computes to prove SCBK knowledge:
// AES-ECB(S-ENC, RND.A || RND.B).
func ClientCryptogram(enc [BlockSize]byte, rndA, rndB [8]byte) [BlockSize]byte {
	var block [BlockSize]byte
	copy(block[:8], rndA[:])
	copy(block[8:], rndB[:])
	return ecbEncryptBlock(enc, block)
}

// ServerCryptogram is what the CP computes to prove SCBK knowledge:
// AES-ECB(S-ENC, RND.B || RND.A).
func ServerCryptogram(enc [BlockSize]byte, rndA, rndB [8]byte) [BlockSize]byte {
	var block [BlockSize]byte
	copy(block[:8], rndB[:])
	copy(block[8:], rndA[:])
	return ecbEncryptBlock(enc, block)
}

// MAC runs the two-key CBC-MAC variant over a framed message: every
// block is chained with S-MAC1 except the last, which uses S-MAC2
// (spec.md §4.3). message is zero-padded up to a block boundary; the
// caller supplies the chaining input (zero for a fresh message, or the
// previous rolling MAC value to extend a running total).
func MAC(mac1, mac2 [BlockSize]byte, chainIn [BlockSize]byte, message []byte) [BlockSize]byte {
	chain := chainIn
	blocks := (len(message) + BlockSize - 1) / BlockSize
	if blocks == 0 {
		blocks = 1
	}
	padded := make([]byte, blocks*BlockSize)
	copy(padded, message)

	for i := 0; i < blocks; i++ {
		var block [BlockSize]byte
		copy(block[:], padded[i*BlockSize:(i+1)*BlockSize])
		for j := range block {
			block[j] ^= chain[j]
		}
		key := mac1
		if i == blocks-1 {
			key = mac2
		}
		chain = ecbEncryptBlock(key, block)
	}
	return chain
}

// Truncate4 returns the 4 bytes of a 16-byte MAC value that ride on the
// wire (spec.md §4.3).
func Truncate4(mac [BlockSize]byte) [4]byte {
	var out [4]byte
	copy(out[:], mac[:4])
	return out
}

// EncryptPayload runs AES-CBC over data using S-ENC, with an IV derived
// from the rolling MAC of the previous frame sent in the same direction
// (spec.md §4.3: "ensuring per-message uniqueness without an explicit
// nonce on the wire"). data must already be padded to a block multiple
// by the caller (the codec layer knows the real vs. padded length).
func EncryptPayload(enc [BlockSize]byte, iv [BlockSize]byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(enc[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, data)
	return out, nil
}

// DecryptPayload is the inverse of EncryptPayload.
func DecryptPayload(enc [BlockSize]byte, iv [BlockSize]byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(enc[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, data)
	return out, nil
}
