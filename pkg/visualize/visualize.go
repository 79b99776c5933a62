// Package visualize renders a pipeline's type descriptor tree as a graph: each node
// is a segment path, annotated with the mutable properties live at that level, and
// each edge is a nested array. Retargeted from rendering a controller's
// object-reference graph to rendering a step graph's output shape.
package visualize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emicklei/dot"

	"github.com/l7mp/flowtree/pkg/typedesc"
)

// DOT renders root as a Graphviz DOT graph.
func DOT(root *typedesc.Descriptor) string {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "LR")
	rootNode := g.Node("<root>").Label(nodeLabel("<root>", root))
	addChildren(g, rootNode, root, "<root>")
	return g.String()
}

func addChildren(g *dot.Graph, parentNode dot.Node, d *typedesc.Descriptor, parentPath string) {
	if d == nil {
		return
	}
	for _, arr := range d.Arrays {
		childPath := parentPath + "/" + arr.Name
		childNode := g.Node(childPath).Label(nodeLabel(arr.Name, arr.Type))
		g.Edge(parentNode, childNode)
		addChildren(g, childNode, arr.Type, childPath)
	}
	for _, obj := range d.Objects {
		childPath := parentPath + "." + obj.Name
		childNode := g.Node(childPath).Label(nodeLabel(obj.Name, obj.Type))
		g.Edge(parentNode, childNode)
		addChildren(g, childNode, obj.Type, childPath)
	}
}

func nodeLabel(name string, d *typedesc.Descriptor) string {
	if d == nil || len(d.MutableProperties) == 0 {
		return name
	}
	props := make([]string, 0, len(d.MutableProperties))
	for p := range d.MutableProperties {
		props = append(props, p)
	}
	sort.Strings(props)
	return fmt.Sprintf("%s\n~%s", name, strings.Join(props, ", "))
}

// Mermaid renders root as a Mermaid flowchart definition.
func Mermaid(root *typedesc.Descriptor) string {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	writeMermaidNode(&b, "root", "&lt;root&gt;", root)
	writeMermaidChildren(&b, "root", root)
	return b.String()
}

func writeMermaidNode(b *strings.Builder, id, name string, d *typedesc.Descriptor) {
	label := nodeLabel(name, d)
	label = strings.ReplaceAll(label, "\n", "<br/>")
	fmt.Fprintf(b, "  %s[%q]\n", id, label)
}

func writeMermaidChildren(b *strings.Builder, parentID string, d *typedesc.Descriptor) {
	if d == nil {
		return
	}
	for i, arr := range d.Arrays {
		childID := fmt.Sprintf("%s_a%d", parentID, i)
		writeMermaidNode(b, childID, arr.Name, arr.Type)
		fmt.Fprintf(b, "  %s --> %s\n", parentID, childID)
		writeMermaidChildren(b, childID, arr.Type)
	}
	for i, obj := range d.Objects {
		childID := fmt.Sprintf("%s_o%d", parentID, i)
		writeMermaidNode(b, childID, obj.Name, obj.Type)
		fmt.Fprintf(b, "  %s --> %s\n", parentID, childID)
		writeMermaidChildren(b, childID, obj.Type)
	}
}
