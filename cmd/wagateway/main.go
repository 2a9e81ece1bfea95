package main

import "github.com/talkincode/wagateway/internal/cli"

func main() {
	cli.Execute()
}
