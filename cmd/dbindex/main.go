package main

import "github.com/mvp-joe/dbindex-check/internal/cli"

func main() {
	cli.Execute()
}
