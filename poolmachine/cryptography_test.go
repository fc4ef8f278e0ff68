package poolmachine

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

func TestSignAndVerify(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	privateKey := hex.EncodeToString(sk.Serialize())
	account := hex.EncodeToString(schnorr.SerializePubKey(sk.PubKey()))

	message := []byte("deposit 500 to goal 1")
	sig, err := Sign(message, privateKey)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !Verify(message, sig, account) {
		t.Fatal("signature did not verify")
	}
	if Verify([]byte("deposit 501 to goal 1"), sig, account) {
		t.Fatal("signature verified against a different message")
	}
}

func TestHashSeqIsDeterministic(t *testing.T) {
	build := func() HashSeq {
		hs := HashSeq{Component: "test", Sequence: 3}
		hs.AppendData("goal")
		hs.AppendData(int64(42))
		hs.AppendData(true)
		hs.S256()
		return hs
	}
	a, b := build(), build()
	if a.Hash != b.Hash {
		t.Fatalf("same data hashed differently: %s vs %s", a.Hash, b.Hash)
	}

	different := HashSeq{Component: "test", Sequence: 3}
	different.AppendData("goal")
	different.AppendData(int64(43))
	different.AppendData(true)
	different.S256()
	if a.Hash == different.Hash {
		t.Fatal("different data hashed identically")
	}
}

func TestInverseBloomFilter(t *testing.T) {
	fresh := MakeNewInverseBloomFilter(1000)
	if !fresh("event one") {
		t.Fatal("first sighting should be fresh")
	}
	if fresh("event one") {
		t.Fatal("second sighting should not be fresh")
	}
	if !fresh("event two") {
		t.Fatal("a different message should be fresh")
	}
}

func TestProgressPercentFloors(t *testing.T) {
	cases := []struct {
		balance, target, want int64
	}{
		{0, 1000, 0},
		{5000, 10000, 50},
		{999, 1000, 99},
		{1100, 1000, 110},
		{100, 0, 0},
		{100, -5, 0},
	}
	for _, c := range cases {
		if got := ProgressPercent(c.balance, c.target); got != c.want {
			t.Fatalf("ProgressPercent(%d, %d) = %d, want %d", c.balance, c.target, got, c.want)
		}
	}
}
