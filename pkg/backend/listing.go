package backend

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
)

type listing struct{}

// NewListing returns the backend that writes a readable instruction
// listing with a checksum per routine body.
func NewListing() Backend { return listing{} }

func (listing) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, ".program %s\n", prog.Name)
	for _, f := range prog.Statics {
		fmt.Fprintf(&buf, ".field static %s\n", f)
	}
	for _, r := range prog.Routines {
		buf.WriteString("\n")
		writeRoutine(&buf, r)
	}
	return &buf, nil
}

// BodyChecksum hashes the live instructions of a routine. Two routines
// with the same optimized body share a checksum.
func BodyChecksum(r *ir.Routine) uint64 {
	h := xxhash.New()
	for _, instr := range r.Live() {
		h.WriteString(instr.String())
		h.WriteString("\n")
	}
	return h.Sum64()
}

func writeRoutine(buf *bytes.Buffer, r *ir.Routine) {
	visibility := "private"
	if r.Exported || r.EntryPoint { visibility = "public" }

	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		params[i] = strings.TrimSpace(p.Type.String() + " " + p.Name)
	}
	fmt.Fprintf(buf, ".method %s static %s %s(%s)\n{\n", visibility, r.Return, r.Name, strings.Join(params, ", "))
	if r.EntryPoint { buf.WriteString("\t.entrypoint\n") }
	if len(r.Locals) > 0 {
		locals := make([]string, len(r.Locals))
		for i, l := range r.Locals {
			locals[i] = strings.TrimSpace(fmt.Sprintf("[%d] %s %s", l.Index, l.Type, l.Name))
		}
		fmt.Fprintf(buf, "\t.locals (%s)\n", strings.Join(locals, ", "))
	}
	fmt.Fprintf(buf, "\t.checksum %016x\n", BodyChecksum(r))

	depth := 1
	for _, instr := range r.Live() {
		switch instr.Op {
		case ir.OpLabel:
			fmt.Fprintf(buf, "%s\n", instr)
			continue
		case ir.OpCatch, ir.OpDefaultCatch, ir.OpEndCatch:
			depth--
		}
		fmt.Fprintf(buf, "%s%s\n", strings.Repeat("\t", depth), instr)
		switch instr.Op {
		case ir.OpTry, ir.OpCatch, ir.OpDefaultCatch:
			depth++
		}
	}
	buf.WriteString("}\n")
}
