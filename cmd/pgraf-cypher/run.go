package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	cypher "github.com/pgraf/go-cypher"
	"github.com/pgraf/go-cypher/exec"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Translate a Cypher query and execute it against PostgreSQL",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "uri",
				Usage: "PostgreSQL DSN (overrides the config file)",
			},
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
			&cli.StringSliceFlag{
				Name:  "bind",
				Usage: "parameter binding as name=value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "assert",
				Usage: "boolean expression over rows/count that must hold (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log translation and execution details",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	source, err := readSource(cmd)
	if err != nil {
		return err
	}

	uri := cmd.String("uri")
	if uri == "" {
		cfg, err := cypher.LoadConfig(".")
		if err != nil {
			if errors.Is(err, cypher.ErrConfigNotFound) {
				return errors.New("no database URI: pass --uri or add a .pgraf-cypher.yaml")
			}

			return err
		}

		uri = cfg.Connection.URI
	}

	bindings, err := parseBindings(cmd.StringSlice("bind"))
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if cmd.Bool("verbose") {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}

		defer func() { _ = logger.Sync() }()
	}

	client, err := exec.New(ctx, exec.Config{
		URI:     uri,
		Options: loadOptions(cmd),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	rows, err := client.Execute(ctx, source, bindings)
	if err != nil {
		var diag cypher.Diagnoser
		if errors.As(err, &diag) {
			fmt.Fprintln(os.Stderr, renderDiagnostic(source, err))

			return cli.Exit("", 1)
		}

		return err
	}

	printRows(rows)

	return checkAssertions(cmd.StringSlice("assert"), rows)
}

// parseBindings converts name=value flags into a binding map. Values stay
// strings; PostgreSQL casts them where the placeholder's context demands a
// different type.
func parseBindings(pairs []string) (map[string]any, error) {
	bindings := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid binding %q: expected name=value", pair)
		}

		bindings[name] = value
	}

	return bindings, nil
}

func printRows(rows []map[string]any) {
	for i, row := range rows {
		var parts []string
		for _, key := range sortedKeys(row) {
			parts = append(parts, fmt.Sprintf("%s=%v", key, row[key]))
		}

		fmt.Printf("%4d  %s\n", i+1, strings.Join(parts, "  "))
	}

	fmt.Printf("(%d rows)\n", len(rows))
}

func checkAssertions(exprs []string, rows []map[string]any) error {
	if len(exprs) == 0 {
		return nil
	}

	env := map[string]any{
		"rows":  rows,
		"count": len(rows),
	}

	failed := 0

	for _, result := range evalExprs(exprs, env) {
		switch {
		case result.Error != nil:
			fmt.Fprintf(os.Stderr, "assert error: %v\n", result.Error)

			failed++
		case !result.Passed:
			fmt.Fprintf(os.Stderr, "assert failed: %s\n", result.Expression)

			failed++
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d assertion(s) failed", failed), 1)
	}

	return nil
}
