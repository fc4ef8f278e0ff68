package main

import (
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/eiannone/keyboard"

	"poolmachine/messaging/blocks"
	"poolmachine/poolmachine"
)

// cliListener is a cheap and nasty way to speed up development cycles. It
// listens for keypresses and executes commands.
func cliListener(interrupt chan struct{}) {
	fmt.Println("Press:\nq: to quit\np: to print pools\nw: to print your current wallet\nb: to insert the next block (devMode)\nSee cliListener.go for more")
	for {
		r, k, err := keyboard.GetSingleKey()
		if err != nil {
			panic(err)
		}
		str := string(r)
		switch str {
		default:
			if k == 13 {
				fmt.Println("\n-----------------------------------")
				break
			}
			if r == 0 {
				break
			}
			fmt.Println("Key " + str + " is not bound to any test procedures. See main.cliListener for more details.")
		case "q":
			poolmachine.Shutdown()
			go func() {
				poolmachine.LogCLI("User requested to terminate at block: "+fmt.Sprint(machine.Processing().Height), 4)
				// If everything goes well, closing the interrupt channel shuts
				// down cleanly before this fires.
				time.Sleep(time.Second * 10)
				println("Something didn't shutdown cleanly. In addition to whatever problem caused this, our " +
					"data is probably corrupt like our leaders.")
				os.Exit(0)
			}()
			return // if we do not return here, we cannot ctrl+c in case of errors during shutdown
		case "p":
			for goalID, p := range machine.Pools.AllPools() {
				fmt.Printf("goal %d\n%s", goalID, spew.Sdump(p))
			}
		case "w":
			fmt.Printf("\nWallet:\n%#v\nCurrent Block:%v\n", poolmachine.MyWallet(), machine.Processing())
		case "b":
			if !poolmachine.MakeOrGetConfig().GetBool("devMode") {
				fmt.Println("inserting blocks by hand only works in devMode")
				break
			}
			next := machine.Height() + 1
			bh := poolmachine.BlockHeader{
				Hash:   string(poolmachine.Sha256(fmt.Sprintf("devblock %d", next))),
				Time:   time.Now().Unix(),
				Height: next,
			}
			go blocks.InsertBlock(bh)
			fmt.Printf("inserted dev block %d\n", next)
		}
	}
}
