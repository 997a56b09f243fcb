package main

import "roundtrip-arb-alerts/internal/cli"

func main() {
	cli.Execute()
}
