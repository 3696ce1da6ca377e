package main

import "github.com/meetbot-dev/meetbot/pkg/cli"

func main() {
	cli.Execute()
}
