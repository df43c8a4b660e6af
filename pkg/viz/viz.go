package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/shape"
)

func label(r oplog.Record) string {
	b := shape.Bounds(r.Shape)
	return fmt.Sprintf("#%d %s (%g,%g)-(%g,%g)", r.ID, r.Shape.Kind(), b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// RenderRoomToSvg draws a room's operations as a chain in append order.
func RenderRoomToSvg(records []oplog.Record, out io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	ordered := append([]oplog.Record(nil), records...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var prev *cgraph.Node
	for _, r := range ordered {
		n, err := graph.CreateNode(strconv.FormatInt(r.ID, 10))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetShape(cgraph.BoxShape)
		n.SetLabel(label(r))
		if prev != nil {
			if _, err := graph.CreateEdge(prev.Name()+"-"+n.Name(), prev, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if _, err := out.Write(buff.Bytes()); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderToTemp(records []oplog.Record) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	f, err := os.Create(tf)
	if err != nil {
		return "", fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()
	if err := RenderRoomToSvg(records, f); err != nil {
		return "", err
	}
	return tf, nil
}
