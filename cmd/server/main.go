package main

import "github.com/bford21/vitalikrun/internal/cli"

func main() {
	cli.Execute()
}
