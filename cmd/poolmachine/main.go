package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"

	"poolmachine/custody"
	"poolmachine/database"
	"poolmachine/messaging/blocks"
	"poolmachine/messaging/eventers"
	"poolmachine/messaging/relay"
	"poolmachine/poolmachine"
)

var machine *custody.Machine

func main() {
	poolmachine.SetMaxOpenFiles()
	deadlock.Opts.DisableLockOrderDetection = true
	deadlock.Opts.DeadlockTimeout = time.Millisecond * 30000

	// Various aspects of this application require global and local settings.
	// To keep things clean and tidy we put these settings in a Viper configuration.
	conf := viper.New()
	poolmachine.InitConfig(conf)
	poolmachine.SetConfig(conf)
	if poolmachine.MakeOrGetConfig().GetBool("firstRun") {
		scanner := bufio.NewScanner(strings.NewReader(poolmachine.Banner()))
		for scanner.Scan() {
			time.Sleep(time.Millisecond * 127)
			fmt.Println(scanner.Text())
		}
		fmt.Println()
	} else {
		fmt.Printf("\n%s\n", poolmachine.Banner())
	}

	// the terminator channel blocks until shutdown, anything requiring a clean
	// shutdown should wait on this channel and clean up when it stops blocking.
	terminator := make(chan struct{})

	// anything requiring a clean shutdown (databases etc) must add to this
	// waitgroup and remove from it when they have cleanly shut down. Failure
	// to do this results in abandoned goroutines at sigterm.
	wg := &sync.WaitGroup{}

	// interrupt: see cliListener
	interrupt := make(chan struct{})
	go cliListener(interrupt)
	poolmachine.RegisterShutdownChan(interrupt)

	poolmachine.LogCLI("our account: "+string(poolmachine.MyWallet().Account), 4)

	machine = custody.NewMachine(conf, eventers.NewProducer())
	machine.Start(terminator, wg)
	eventers.Start(terminator, wg)
	relay.Start(machine, terminator, wg)

	go func() {
		for bh := range blocks.SubscribeToBlocks() {
			machine.ProcessBlock(bh)
		}
	}()

	poolmachine.LogCLI("Waiting for terminate signal, press q to quit", 4)
	<-interrupt
	poolmachine.MakeOrGetConfig().Set("firstRun", false)
	if err := poolmachine.MakeOrGetConfig().WriteConfig(); err != nil {
		poolmachine.LogCLI(err.Error(), 3)
	}
	close(terminator)
	wg.Wait()
	database.Backup()
	os.Exit(0)
}
