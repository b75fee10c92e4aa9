package main

import "github.com/clash402/dataghost/internal/cli"

func main() {
	cli.Execute()
}
