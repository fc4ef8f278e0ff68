package poolmachine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/nbd-wtf/go-nostr/nip06"
	"github.com/sasha-s/go-deadlock"
)

var currentWallet Wallet
var currentWalletMutex = &deadlock.Mutex{}

// MyWallet returns the current Wallet or creates a new one if there isn't one already.
// Emitted state-change events are signed with this wallet's key.
func MyWallet() Wallet {
	currentWalletMutex.Lock()
	defer currentWalletMutex.Unlock()
	if len(currentWallet.PrivateKey) == 0 {
		//try to restore wallet from disk
		if w, ok := getWalletFromDisk(); ok {
			currentWallet = w
		} else {
			LogCLI("Generating a new wallet, write down the seed words if you want to keep it", 4)
			currentWallet = makeNewWallet()
			fmt.Printf("\n\n~NEW WALLET~\nPublic Key: %s\nPrivate Key: %s\nSeed Words: %s\n\n", currentWallet.Account, currentWallet.PrivateKey, currentWallet.SeedWords)
		}
		if err := persistCurrentWallet(); err != nil {
			LogCLI(err.Error(), 0)
		}
	}
	return currentWallet
}

func makeNewWallet() Wallet {
	seedWords, err := nip06.GenerateSeedWords()
	if err != nil {
		LogCLI(err.Error(), 0)
	}
	seed := nip06.SeedFromWords(seedWords)
	sk, err := nip06.PrivateKeyFromSeed(seed)
	if err != nil {
		LogCLI(err.Error(), 0)
	}
	return Wallet{
		PrivateKey: sk,
		SeedWords:  seedWords,
		Account:    getPubKey(sk),
	}
}

func getPubKey(privateKey string) string {
	if keyb, err := hex.DecodeString(privateKey); err != nil {
		LogCLI(fmt.Sprintf("Error decoding key from hex: %s\n", err.Error()), 0)
	} else {
		_, pubkey := btcec.PrivKeyFromBytes(keyb)
		return hex.EncodeToString(pubkey.X().Bytes())
	}
	return ""
}

func walletPath() string {
	if MakeOrGetConfig() == nil {
		return ""
	}
	return MakeOrGetConfig().GetString("rootDir") + "wallet.json"
}

func getWalletFromDisk() (Wallet, bool) {
	var w Wallet
	path := walletPath()
	if len(path) == 0 {
		return w, false
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return w, false
	}
	if err = json.Unmarshal(b, &w); err != nil {
		LogCLI(err.Error(), 2)
		return w, false
	}
	if len(w.PrivateKey) == 0 {
		return w, false
	}
	return w, true
}

func persistCurrentWallet() error {
	path := walletPath()
	if len(path) == 0 {
		return nil
	}
	b, err := json.MarshalIndent(currentWallet, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}
