package mdadapter

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var (
	startSeq = []byte("[[")
	endSeq   = []byte("]]")
	descSeq  = []byte("|")
	allMods  = []byte("MODS")

	resolverKey = parser.NewContextKey()
)

/*
 * Wiki link
 * [[mod.jar]]
 * [[mod.jar|Description]]
 * [[MODS]] - all mods
 */
type modDirectiveParser struct{}

func NewModDirectiveParser() parser.InlineParser {
	return &modDirectiveParser{}
}

func (p *modDirectiveParser) Trigger() []byte {
	return []byte{'['}
}

func (p *modDirectiveParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, startSeq) {
		return nil
	}

	end := bytes.Index(line, endSeq)
	if end < 0 {
		return nil
	}

	body := bytes.TrimSpace(line[len(startSeq):end])
	if len(body) == 0 {
		return nil
	}

	block.Advance(end + len(endSeq))

	node := &ModNode{}
	if bytes.Equal(body, allMods) {
		node.All = true
	} else {
		name, desc, _ := bytes.Cut(body, descSeq)
		node.FileName = string(bytes.TrimSpace(name))
		node.Description = string(bytes.TrimSpace(desc))
	}

	if r, ok := pc.Get(resolverKey).(*statusResolver); ok {
		node.HTML, node.Error = r.render(node)
	} else {
		node.HTML = []byte(html.EscapeString(node.label()))
	}

	return node
}

func (n *ModNode) label() string {
	switch {
	case n.All:
		return string(allMods)
	case n.Description != "":
		return n.Description
	}

	return n.FileName
}
