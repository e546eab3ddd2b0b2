package mdadapter

import (
	"fmt"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type modNodeRenderer struct{}

func NewModNodeRenderer() renderer.NodeRenderer {
	return &modNodeRenderer{}
}

func (r *modNodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindModNode, r.renderModNode)
}

func (r *modNodeRenderer) renderModNode(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	node, ok := n.(*ModNode)
	if !ok {
		return ast.WalkStop, fmt.Errorf("unexpected node %T, expected *ModNode", n)
	}

	if node.Error != nil {
		return ast.WalkStop, fmt.Errorf("cannot render mod directive: %w", node.Error)
	}

	w.Write(node.HTML)

	return ast.WalkContinue, nil
}
