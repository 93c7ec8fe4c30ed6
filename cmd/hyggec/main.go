package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"hyggec/internal/ast"
	"hyggec/internal/checker"
	"hyggec/internal/compiler"
	"hyggec/internal/config"
	"hyggec/internal/lexer"
	"hyggec/internal/parser"
	"hyggec/internal/runtime"
)

var (
	fs = afero.NewOsFs()

	flagVerbose bool
	flagConfig  string
	flagStyle   string
	flagPeep    bool
	flagAlloc   string
	flagOut     string
	flagInput   []string
)

func main() {
	root := &cobra.Command{
		Use:           "hyggec",
		Short:         "Hygge compiler targeting WebAssembly text modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flagConfig, "config", "hyggec.yaml", "driver configuration file")

	root.AddCommand(lexCmd(), parseCmd(), checkCmd(), compileCmd(), runCmd())

	if err := root.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	msg := err.Error()
	if isatty.IsTerminal(os.Stderr.Fd()) {
		msg = color.New(color.FgRed, color.Bold).Sprint("error: ") + msg
	} else {
		msg = "error: " + msg
	}
	fmt.Fprintln(os.Stderr, msg)
}

func readSource(path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func buildOptions(cmd *cobra.Command) (compiler.Options, error) {
	opts := compiler.DefaultOptions()
	cfg, err := config.Load(fs, flagConfig)
	if err != nil {
		return opts, err
	}
	if err := cfg.Apply(&opts); err != nil {
		return opts, err
	}
	if cmd.Flags().Changed("style") {
		style, err := config.ParseStyle(flagStyle)
		if err != nil {
			return opts, err
		}
		opts.Style = style
	}
	if cmd.Flags().Changed("peep") {
		opts.Peephole = flagPeep
	}
	if cmd.Flags().Changed("alloc") {
		alloc, err := config.ParseAlloc(flagAlloc)
		if err != nil {
			return opts, err
		}
		opts.Alloc = alloc
	}
	return opts, nil
}

func addCompileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagStyle, "style", "linear", "serialization style: linear or folded")
	cmd.Flags().BoolVar(&flagPeep, "peep", true, "run the peephole optimizer")
	cmd.Flags().StringVar(&flagAlloc, "alloc", "external", "allocation strategy: internal or external")
}

func lexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lex <file>",
		Short: "Tokenize a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			lex := lexer.New(src)
			for {
				tok := lex.Next()
				if tok.Kind == lexer.TokenEOF {
					break
				}
				fmt.Printf("%d:%d\t%s\n", tok.Pos.Line, tok.Pos.Col, tok)
			}
			if errs := lex.Errors(); len(errs) > 0 {
				return errs[0]
			}
			return nil
		},
	}
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a source file and dump its AST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			prog, err := parser.New(args[0], src).ParseProgram()
			if err != nil {
				return err
			}
			fmt.Print(ast.Dump(prog))
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Type-check a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			prog, err := parser.New(args[0], src).ParseProgram()
			if err != nil {
				return err
			}
			c := checker.New(args[0])
			if err := c.Check(prog); err != nil {
				for _, e := range c.Errors {
					printError(e)
				}
				return fmt.Errorf("%d type error(s)", len(c.Errors))
			}
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile-wasm <file>",
		Short: "Compile a source file to a WAT module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			opts, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			res, err := compiler.Compile(args[0], src, opts)
			if err != nil {
				return err
			}
			if flagOut == "" {
				fmt.Print(res.WAT)
				return nil
			}
			return afero.WriteFile(fs, flagOut, []byte(res.WAT), 0o644)
		},
	}
	addCompileFlags(cmd)
	cmd.Flags().StringVar(&flagOut, "out", "", "write the WAT module to a file instead of stdout")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-wasm <file>",
		Short: "Compile a source file and run it under wasmtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			opts, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			res, err := compiler.CompileToWasm(args[0], src, opts)
			if err != nil {
				return err
			}
			runner := runtime.NewRunner()
			out, err := runner.RunWithInput(res.Wasm, flagInput)
			if err != nil {
				return err
			}
			fmt.Print(out.Output)
			if flagVerbose {
				for _, call := range out.Trace {
					logrus.WithField("call", call).Debug("host call")
				}
			}
			if out.ExitCode != 0 {
				os.Exit(out.ExitCode)
			}
			return nil
		},
	}
	addCompileFlags(cmd)
	cmd.Flags().StringSliceVar(&flagInput, "input", nil, "tokens fed to readInt/readFloat")
	return cmd
}
