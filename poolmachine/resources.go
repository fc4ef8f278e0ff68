package poolmachine

import "syscall"

func Banner() string {
	return "" +
		"                     _                      _     _             \n" +
		"  _ __   ___   ___  | | _ __ ___   __ _  __| |__ (_)_ __   ___  \n" +
		" | '_ \\ / _ \\ / _ \\ | || '_ ` _ \\ / _` |/ _| '_ \\| | '_ \\ / _ \\ \n" +
		" | |_) | (_) | (_) || || | | | | | (_| | (_| | | | | | | |  __/ \n" +
		" | .__/ \\___/ \\___/ |_||_| |_| |_|\\__,_|\\__|_| |_|_|_| |_|\\___| \n" +
		" |_|          pooled savings on a bitcoin heartbeat             \n"
}

// SetMaxOpenFiles raises our file descriptor limit to the hard maximum. We
// keep a lot of flat files and sockets open at once.
func SetMaxOpenFiles() {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		LogCLI(err.Error(), 2)
		return
	}
	limit.Cur = limit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		LogCLI(err.Error(), 2)
	}
}
