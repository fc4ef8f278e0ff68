package poolmachine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	boom "github.com/tylertreat/BoomFilters"
)

// HashSeq is a deterministic hash over a component's full state, plus the total
// sequence of operations that produced it. Snapshots are indexed by it.
type HashSeq struct {
	Hash      S256Hash
	Sequence  int64
	Component string
	Data      bytes.Buffer
	CreatedAt int64
}

func Sign(message []byte, privateKey string) (signature string, e error) {
	hash := sha256.Sum256(message)

	s, err := hex.DecodeString(privateKey)
	if err != nil {
		return signature, fmt.Errorf("Sign called with invalid private key '%s': %w", privateKey, err)
	}
	sk, _ := btcec.PrivKeyFromBytes(s)

	sig, err := schnorr.Sign(sk, hash[:])
	if err != nil {
		return signature, err
	}

	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a schnorr signature made by Sign against the account (x-only pubkey hex) that claims to have made it.
func Verify(message []byte, signature string, account Account) bool {
	hash := sha256.Sum256(message)
	pk, err := hex.DecodeString(account)
	if err != nil {
		LogCLI(err.Error(), 3)
		return false
	}
	pubkey, err := schnorr.ParsePubKey(pk)
	if err != nil {
		LogCLI(err.Error(), 3)
		return false
	}
	s, err := hex.DecodeString(signature)
	if err != nil {
		LogCLI(err.Error(), 3)
		return false
	}
	sig, err := schnorr.ParseSignature(s)
	if err != nil {
		LogCLI(err.Error(), 3)
		return false
	}
	return sig.Verify(hash[:], pubkey)
}

func Sha256(data interface{}) S256Hash {
	var b []byte
	switch d := data.(type) {
	case string:
		b = []byte(d)
	case []byte:
		b = d
	default:
		LogCLI("attempted to hash non-string or non-[]byte", 0)
	}
	h := sha256.New()
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func MakeNewInverseBloomFilter(capacity uint) func(message interface{}) bool {
	ibf := boom.NewInverseBloomFilter(capacity)
	return func(message interface{}) bool {
		b := []byte(fmt.Sprint(message))
		return !ibf.TestAndAdd(b)
	}
}

//AppendData adds the provided data to a buffer that lives as long as the HashSeq.
//Call HashSeq.S256 to hash the buffer and write the hash to HashSeq.Hash
func (h *HashSeq) AppendData(data interface{}) error {
	var errors []error
	switch d := data.(type) {
	case string:
		_, err := h.Data.WriteString(d)
		errors = append(errors, err)
	case int64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(d))
		_, err := h.Data.Write(b)
		errors = append(errors, err)
	case []byte:
		_, err := h.Data.Write(d)
		errors = append(errors, err)
	case []string:
		for _, s := range d {
			_, err := h.Data.WriteString(s)
			errors = append(errors, err)
		}
	case bool:
		if d {
			err := h.Data.WriteByte(1)
			errors = append(errors, err)
		}
		if !d {
			err := h.Data.WriteByte(0)
			errors = append(errors, err)
		}
	}
	for _, err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}

// S256 calculates the sha256 hash of the HashSeq and stores it as the HashSeq.Hash
//It resets the HashSeq.Data buffer.
func (h *HashSeq) S256() {
	h.Hash = fmt.Sprintf("%x", sha256.Sum256(h.Data.Bytes()))
	h.Data = bytes.Buffer{}
}
