package main

import (
	"os"

	"github.com/goplus/llpm/cmd/llpm/internal"
)

func main() {
	os.Exit(internal.Execute())
}
