// Package main imports a markdown rulebook into the engine's rule store.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/loomworks/worldloom/internal/platform/config"
	rulebookimporter "github.com/loomworks/worldloom/internal/tools/importer/rulebook"
)

func main() {
	cfg, err := rulebookimporter.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	if err := rulebookimporter.Run(context.Background(), cfg, os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
