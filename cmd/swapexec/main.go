package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/ggonzalez94/swapexec/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	// A local .env may carry SWAPEXEC_* settings and keys. It is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = os.Stderr.WriteString("swapexec: load .env: " + err.Error() + "\n")
	}
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
