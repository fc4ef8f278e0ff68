package poolmachine

import (
	"os"

	"github.com/spf13/viper"
)

// InitConfig sets up our Viper config object
func InitConfig(config *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		LogCLI(err.Error(), 0)
	}
	config.SetDefault("rootDir", homeDir+"/poolmachine/")
	config.SetConfigType("yaml")
	config.SetConfigFile(config.GetString("rootDir") + "config.yaml")
	err = config.ReadInConfig()
	if err != nil {
		LogCLI(err.Error(), 4)
	}
	config.SetDefault("firstRun", true)
	config.SetDefault("flatFileDir", "data/")
	config.SetDefault("blockServer", "https://blockchain.info")
	config.SetDefault("logLevel", 4)
	config.SetDefault("logActors", true)
	config.SetDefault("devMode", false)
	if config.GetBool("devMode") {
		config.SetDefault("ignitionHeight", int64(0))
	}
	if !config.GetBool("devMode") {
		config.SetDefault("ignitionHeight", int64(761151))
	}
	config.SetDefault("websocketAddr", "0.0.0.0:1031")

	// seed values for the control plane; once the machine is running these are
	// governed by the administrator, not the config file.
	config.SetDefault("admin", "")
	config.SetDefault("oracle", "")
	config.SetDefault("votingThreshold", int64(51))
	config.SetDefault("timeLockDuration", int64(100))
	config.SetDefault("maxVoters", int64(100))
	config.SetDefault("poolCap", int64(100))
	config.SetDefault("depositFee", int64(0))

	//we usually lean towards errors being fatal to cause less damage to state. If this is set to true, we lean towards staying alive instead.
	config.SetDefault("highly_reliable", false)

	// Create our working directory and config file if not exist
	initRootDir(config)
	Touch(config.GetString("rootDir") + "config.yaml")
	err = config.WriteConfig()
	if err != nil {
		LogCLI(err.Error(), 0)
	}
}

func initRootDir(conf *viper.Viper) {
	_, err := os.Stat(conf.GetString("rootDir"))
	if os.IsNotExist(err) {
		err = os.Mkdir(conf.GetString("rootDir"), 0755)
		if err != nil {
			LogCLI(err, 0)
		}
	}
}
