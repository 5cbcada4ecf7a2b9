package governor

import "os"

func processPID() int {
	return os.Getpid()
}
