package mdadapter

import (
	"strconv"

	"github.com/yuin/goldmark/ast"
)

var KindModNode = ast.NewNodeKind("ModNode")

// ModNode is a [[file.jar]], [[file.jar|Description]] or [[MODS]] directive.
// HTML is filled at parse time when a resolver is present in the parser context.
type ModNode struct {
	ast.BaseInline
	FileName    string
	Description string
	All         bool

	HTML  []byte
	Error error
}

func (n *ModNode) Kind() ast.NodeKind {
	return KindModNode
}

func (n *ModNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"FileName":    n.FileName,
		"Description": n.Description,
		"All":         strconv.FormatBool(n.All),
	}, nil)
}
