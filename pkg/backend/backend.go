// Package backend materializes a generated ir.Program into its textual
// outputs: an assembly-style listing or QBE IL compiled by libqbe.
package backend

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
)

// Backend is the interface that all materializers implement.
type Backend interface {
	// Generate takes a program and a configuration, and produces the target
	// output as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
}

// Select returns the backend registered under name.
func Select(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "listing", "il":
		return NewListing(), nil
	case "qbe":
		return NewQBE(), nil
	}
	return nil, fmt.Errorf("unknown backend '%s'", name)
}
