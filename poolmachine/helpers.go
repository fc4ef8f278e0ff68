package poolmachine

import (
	"os"
)

func Touch(path string) error {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
	}
	return nil
}

// ProgressPercent returns floor(balance x 100 / target). Integer division
// does the flooring for the non-negative amounts we deal in.
func ProgressPercent(balance, target int64) int64 {
	if target <= 0 {
		return 0
	}
	return balance * 100 / target
}

//Contains checks if a slice contains a string
func Contains(s []string, e string) bool {
	for _, a := range s {
		if a == e {
			return true
		}
	}
	return false
}
