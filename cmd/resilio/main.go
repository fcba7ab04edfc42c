package main

import "github.com/vietddude/resilio/internal/cli"

func main() {
	cli.Execute()
}
