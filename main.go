package main

import "github.com/tuxx/wayvid/internal/cli"

func main() {
	cli.Execute()
}
