package main

import "github.com/jmcasey/stockdash/internal/cli"

func main() {
	cli.Execute()
}
