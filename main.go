package main

import (
	"github.com/dirkpokemon/pokemon-market-intel/internal/cli"
)

func main() {
	cli.Execute()
}
