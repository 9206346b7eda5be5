package main

import (
	"github.com/mchmarny/loanscore/pkg/cli"
)

func main() {
	cli.Execute()
}
