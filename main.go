package main

import (
	"github.com/funmusicplace/mirlo-sub003/cmd"
)

func main() {
	cmd.Execute()
}
