// Package viz renders documents and histories as SVG graphs.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/astromechza/docsync/pkg/dm"
)

func render(build func(graph *cgraph.Graph) error) ([]byte, error) {
	g := graphviz.New()
	defer func() {
		_ = g.Close()
	}()
	graph, err := g.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to setup graph: %w", err)
	}
	defer func() {
		_ = graph.Close()
	}()
	if err := build(graph); err != nil {
		return nil, err
	}
	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return nil, fmt.Errorf("failed to render: %w", err)
	}
	return buff.Bytes(), nil
}

func nodeLabel(n *dm.Node, offset int) string {
	label := fmt.Sprintf("%s @%d len=%d", n.Type(), offset, n.Length())
	if attrs := n.Attributes(); len(attrs) > 0 {
		keys := maps.Keys(attrs)
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
		}
		label += " {" + strings.Join(parts, ", ") + "}"
	}
	return label
}

// RenderTree renders the node tree of a document, each node labelled with its
// type, offset, length and attributes.
func RenderTree(doc *dm.Document) ([]byte, error) {
	return render(func(graph *cgraph.Graph) error {
		var counter int
		var walk func(n *dm.Node, parent *cgraph.Node) error
		walk = func(n *dm.Node, parent *cgraph.Node) error {
			counter++
			gn, err := graph.CreateNode("n" + strconv.Itoa(counter))
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			gn.SetLabel(nodeLabel(n, n.Offset()))
			if parent != nil {
				if _, err := graph.CreateEdge("e"+strconv.Itoa(counter), parent, gn); err != nil {
					return fmt.Errorf("failed to create edge: %w", err)
				}
			}
			for _, c := range n.Children() {
				if err := walk(c, gn); err != nil {
					return err
				}
			}
			return nil
		}
		return walk(doc.Root(), nil)
	})
}

// RenderHistory renders a change as a chain of its transactions, each labelled
// with its history position, author and operations.
func RenderHistory(change *dm.Change) ([]byte, error) {
	return render(func(graph *cgraph.Graph) error {
		var prev *cgraph.Node
		for i, tx := range change.Transactions {
			n, err := graph.CreateNode("t" + strconv.Itoa(change.Start+i))
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			n.SetLabel(fmt.Sprintf("#%d %s", change.Start+i, tx))
			if prev != nil {
				if _, err := graph.CreateEdge("e"+strconv.Itoa(i), prev, n); err != nil {
					return fmt.Errorf("failed to create edge: %w", err)
				}
			}
			prev = n
		}
		return nil
	})
}

// WriteTemp writes rendered output to a fresh file in the temp directory and
// returns its path.
func WriteTemp(raw []byte) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := os.WriteFile(tf, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write: %w", err)
	}
	return tf, nil
}
