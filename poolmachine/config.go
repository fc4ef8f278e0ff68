package poolmachine

import (
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"
)

var conf *viper.Viper
var confMutex = &deadlock.Mutex{}

func MakeOrGetConfig() *viper.Viper {
	confMutex.Lock()
	defer confMutex.Unlock()
	return conf
}

func SetConfig(config *viper.Viper) {
	confMutex.Lock()
	defer confMutex.Unlock()
	conf = config
}

var shutdownChan chan struct{}
var shutdownMutex = &deadlock.Mutex{}

func RegisterShutdownChan(shutdown chan struct{}) {
	shutdownMutex.Lock()
	defer shutdownMutex.Unlock()
	shutdownChan = shutdown
}

// Shutdown closes the registered shutdown channel. Anything needing a clean
// shutdown waits on that channel and gets 120 seconds to finish before we kill
// the process.
func Shutdown() {
	LogCLI("Calling Shutdown", 2)
	shutdownMutex.Lock()
	defer shutdownMutex.Unlock()
	if shutdownChan == nil {
		os.Exit(1)
	}
	select {
	case <-shutdownChan:
		return
	default:
		close(shutdownChan)
	}
	go func() {
		time.Sleep(time.Second * 120)
		println("Something didn't shutdown cleanly. In addition to whatever problem caused this, our " +
			"data is probably corrupt.")
		os.Exit(0)
	}()
}
