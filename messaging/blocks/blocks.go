// Package blocks supplies the externally sourced height counter. The machine
// never generates time itself: blocks arrive on a channel, either from the
// configured block server or inserted by hand in devMode.
package blocks

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"poolmachine/poolmachine"
)

var blockChannel = make(chan poolmachine.BlockHeader)

// InsertBlock hands a block to whoever subscribed. Used by devMode tooling to
// advance the clock by hand.
func InsertBlock(bh poolmachine.BlockHeader) {
	blockChannel <- bh
}

// SubscribeToBlocks returns the channel new blocks arrive on. Outside devMode
// it also starts polling the configured block server.
func SubscribeToBlocks() chan poolmachine.BlockHeader {
	if !poolmachine.MakeOrGetConfig().GetBool("devMode") {
		go listenForNewBlocksFromPublicAPI(blockChannel)
	}
	return blockChannel
}

// listenForNewBlocksFromPublicAPI polls the block server for new tips and
// sends them to the provided channel.
func listenForNewBlocksFromPublicAPI(listener chan poolmachine.BlockHeader) {
	var tip poolmachine.BlockHeader
	for {
		<-time.After(time.Second * 20)
		response, err := fetchLatestBlockFromNetwork()
		if err != nil {
			poolmachine.LogCLI(err, 2)
			continue
		}
		if response.Height > tip.Height {
			tip = response
			listener <- tip
		}
	}
}

// FetchLatestBlock returns the latest block header the server knows about.
func FetchLatestBlock() (poolmachine.BlockHeader, bool) {
	if latest, err := fetchLatestBlockFromNetwork(); err == nil {
		return latest, true
	}
	return poolmachine.BlockHeader{}, false
}

func fetchLatestBlockFromNetwork() (poolmachine.BlockHeader, error) {
	bh := poolmachine.BlockHeader{}
	client := &http.Client{Timeout: time.Second * 10}
	url := poolmachine.MakeOrGetConfig().GetString("blockServer") + "/latestblock"
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return bh, err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return bh, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return bh, fmt.Errorf("block server returned %d", resp.StatusCode)
	}
	bodyBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return bh, err
	}
	err = json.Unmarshal(bodyBytes, &bh)
	if err != nil {
		return bh, err
	}
	return bh, nil
}
