package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	cypher "github.com/pgraf/go-cypher"
)

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:      "translate",
		Usage:     "Translate a Cypher query to SQL and print it",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "schema",
				Usage: "PostgreSQL schema holding the graph tables",
			},
			&cli.IntFlag{
				Name:  "max-depth",
				Usage: "depth cap for unbounded variable-length traversals",
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "inline query text instead of a file",
			},
		},
		Action: runTranslate,
	}
}

func runTranslate(_ context.Context, cmd *cli.Command) error {
	source, err := readSource(cmd)
	if err != nil {
		return err
	}

	opts := loadOptions(cmd)

	sql, params, err := cypher.New(opts).Translate(source)
	if err != nil {
		fmt.Fprintln(os.Stderr, renderDiagnostic(source, err))

		return cli.Exit("", 1)
	}

	fmt.Println(sql)

	if params.Len() > 0 {
		fmt.Println()

		names := params.Names()
		for i, name := range names {
			fmt.Printf("  $%d  <-  $%s\n", i+1, name)
		}
	}

	return nil
}

// readSource reads the query from --query, a file argument, or stdin.
func readSource(cmd *cli.Command) (string, error) {
	if q := cmd.String("query"); q != "" {
		return q, nil
	}

	if path := cmd.Args().First(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}

		return string(data), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}

	return string(data), nil
}

// loadOptions merges the config file (when present) with command flags.
func loadOptions(cmd *cli.Command) cypher.Options {
	opts := cypher.Options{}

	cfg, err := cypher.LoadConfig(".")
	if err == nil {
		opts = cfg.Options()
	} else if !errors.Is(err, cypher.ErrConfigNotFound) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if schema := cmd.String("schema"); schema != "" {
		opts.Schema = schema
	}

	if depth := int(cmd.Int("max-depth")); depth > 0 {
		opts.MaxPathDepth = depth
	}

	return opts
}

// sortedKeys returns the map's keys in stable order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
