package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/discussion-experiments/pkg/discussion"
)

const maxBodyLabel = 32

func nodeName(id int64) string {
	return "c" + strconv.FormatInt(id, 10)
}

func label(c *discussion.Comment) string {
	body := []rune(c.Body)
	if len(body) > maxBodyLabel {
		body = append(body[:maxBodyLabel], '…')
	}
	return fmt.Sprintf("#%d %s: %s (%d)", c.EventID, c.From.Username, string(body), c.UpvoteCount())
}

func RenderStateToSvg(state *discussion.State, outputPath string) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, c := range state.Comments() {
		n, err := graph.CreateNode(nodeName(c.EventID))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(c))
		nodeMap[n.Name()] = n

		if c.ParentCommentID != nil {
			parent, ok := nodeMap[nodeName(*c.ParentCommentID)]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderToTemp(state *discussion.State) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderStateToSvg(state, tf); err != nil {
		return "", err
	}
	return tf, nil
}

// WriteDot writes the comment tree as plain graphviz source.
func WriteDot(w io.Writer, state *discussion.State) error {
	if _, err := fmt.Fprintln(w, `digraph "discussion" {`); err != nil {
		return err
	}
	for _, c := range state.Comments() {
		if _, err := fmt.Fprintf(w, "    %q [label=%q]\n", nodeName(c.EventID), label(c)); err != nil {
			return err
		}
		if c.ParentCommentID != nil {
			if _, err := fmt.Fprintf(w, "    %q -> %q\n", nodeName(*c.ParentCommentID), nodeName(c.EventID)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
