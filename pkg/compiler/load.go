package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/asm"
)

// LoadImage builds a runnable image from a .fj source, a .s listing or a
// .o object file. The returned text is the assembly the image came from,
// for mapping addresses back to lines; it is empty for object files.
func LoadImage(path string, opts Options) (*asm.Program, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".o":
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open object file: %w", err)
		}
		defer f.Close()
		words, err := asm.ReadHex(f)
		if err != nil {
			return nil, "", err
		}
		return &asm.Program{Words: words}, "", nil
	case ".s":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read assembly file: %w", err)
		}
		prog, err := asm.Assemble(string(data))
		if err != nil {
			return nil, "", err
		}
		return prog, string(data), nil
	case ".fj":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read source file: %w", err)
		}
		res, err := Compile(string(data), opts)
		if err != nil {
			return nil, "", err
		}
		return res.Image, res.Asm, nil
	}
	return nil, "", fmt.Errorf("unknown input type %q (want .fj, .s or .o)", filepath.Ext(path))
}
