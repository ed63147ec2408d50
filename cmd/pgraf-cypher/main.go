// Package main provides the pgraf-cypher CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	app := &cli.Command{
		Name:    "pgraf-cypher",
		Version: version,
		Usage:   "Translate Cypher queries to PostgreSQL SQL",
		Commands: []*cli.Command{
			translateCommand(),
			runCommand(),
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
