// Command sqliteread answers read-only queries against a SQLite database
// file: .dbinfo, .tables, .indexes, and a restricted SELECT dialect.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
)

// CLI defines the command-line interface
type CLI struct {
	Debug  bool   `help:"Enable debug logging." short:"d"`
	Output string `help:"Output format (console or json)." short:"o"`
	Config string `help:"Path to a YAML engine config file." type:"path"`

	Database string `arg:"" help:"Path to the SQLite database file."`
	Command  string `arg:"" help:"Dot command (.dbinfo, .tables, .indexes) or SQL query."`
}

func main() {
	if err := runProgram(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runProgram parses arguments and executes a single command. It is kept
// separate from main so tests can drive it with their own argv.
func runProgram(args []string) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("sqliteread"),
		kong.Description("Read-only query engine over the SQLite file format."))
	if err != nil {
		return err
	}
	if _, err := parser.Parse(args); err != nil {
		return err
	}

	cfg := DefaultEngineConfig()
	if cli.Config != "" {
		cfg, err = LoadEngineConfig(cli.Config)
		if err != nil {
			return err
		}
	}
	if cli.Output != "" {
		cfg.Output = cli.Output
	}
	if cli.Debug {
		cfg.LogLevel = "debug"
	}

	level, err := cfg.ParseLogLevel()
	if err != nil {
		return err
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(level)

	engine, err := NewSqliteEngine(cli.Database,
		WithOutput(cfg.Output),
		WithLogLevel(cfg.LogLevel),
		WithPageCacheSize(cfg.PageCacheSize))
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.ExecuteCommand(context.Background(), cli.Command)
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}
