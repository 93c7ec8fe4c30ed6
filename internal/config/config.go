// Package config loads the optional driver configuration file. Flags
// given on the command line always win over file values.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"hyggec/internal/compiler"
	"hyggec/internal/wasm"
)

type File struct {
	Style     string `yaml:"style"`
	Peephole  *bool  `yaml:"peephole"`
	Allocator string `yaml:"allocator"`
	SI        string `yaml:"si"`
}

// Load reads a YAML configuration file. A missing path is not an
// error: it yields an empty configuration.
func Load(fs afero.Fs, path string) (*File, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Apply folds the file values into opts.
func (f *File) Apply(opts *compiler.Options) error {
	if f.Style != "" {
		style, err := ParseStyle(f.Style)
		if err != nil {
			return err
		}
		opts.Style = style
	}
	if f.Peephole != nil {
		opts.Peephole = *f.Peephole
	}
	if f.Allocator != "" {
		alloc, err := ParseAlloc(f.Allocator)
		if err != nil {
			return err
		}
		opts.Alloc = alloc
	}
	if f.SI != "" {
		opts.SI = f.SI
	}
	return nil
}

func ParseStyle(s string) (wasm.Style, error) {
	switch s {
	case "linear":
		return wasm.StyleLinear, nil
	case "folded":
		return wasm.StyleFolded, nil
	}
	return wasm.StyleLinear, fmt.Errorf("unknown style %q (want linear or folded)", s)
}

func ParseAlloc(s string) (wasm.AllocStrategy, error) {
	switch s {
	case "internal":
		return wasm.AllocInternal, nil
	case "external":
		return wasm.AllocExternal, nil
	}
	return wasm.AllocExternal, fmt.Errorf("unknown allocation strategy %q (want internal or external)", s)
}
