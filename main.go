package main

import "github.com/derickschaefer/meterstat/cmd"

func main() {
	cmd.Execute()
}
