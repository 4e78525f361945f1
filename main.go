package main

import (
	"github.com/nagy-andras-sk/edudisplej-sub004/cmd"
)

func main() {
	cmd.Execute()
}
