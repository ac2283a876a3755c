package main

import (
	"stock-count-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
