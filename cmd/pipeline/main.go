package main

import (
	"os"

	"github.com/booksapi/release-pipeline/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
