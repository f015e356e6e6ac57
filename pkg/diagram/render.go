package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-graphviz"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

// Format is an output format.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
	FormatJPG Format = "jpg"
	FormatDOT Format = "dot"
)

// Formats lists the supported output formats.
var Formats = []Format{FormatPNG, FormatSVG, FormatJPG, FormatDOT}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case FormatPNG, FormatSVG, FormatJPG, FormatDOT:
		return f, nil
	case "jpeg":
		return FormatJPG, nil
	}
	return "", serrors.New(serrors.ErrCodeUnsupported, "unsupported diagram format %q", s)
}

// Palette of the rendered diagram.
const (
	fontColor    = "#2D3436"
	edgeColor    = "#7B8894"
	clusterFill  = "#E5F5FD"
	clusterColor = "#AEB6BE"
)

var kindAttrs = map[Kind]string{
	KindClient:   `shape=ellipse, fillcolor="#FDEBD0"`,
	KindServer:   `shape=box3d, fillcolor="#D6EAF8"`,
	KindSQL:      `shape=note, fillcolor="#FCF3CF"`,
	KindDatabase: `shape=cylinder, fillcolor="#D5F5E3"`,
	KindStorage:  `shape=folder, fillcolor="#EBDEF0"`,
}

// ToDOT converts a diagram to Graphviz DOT. Nodes outside clusters come
// first, then each cluster, then the edges in declaration order.
func ToDOT(d *Diagram) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph %q {\n", d.Title)
	fmt.Fprintf(&buf, "  rankdir=%s;\n", d.Direction)
	fmt.Fprintf(&buf, "  label=%q;\n", d.Title)
	buf.WriteString("  labelloc=t;\n")
	fmt.Fprintf(&buf, "  fontname=\"Sans-Serif\"; fontsize=15; fontcolor=%q;\n", fontColor)
	buf.WriteString("  pad=1.0; nodesep=0.6; ranksep=0.75; splines=ortho;\n")
	fmt.Fprintf(&buf, "  node [style=filled, fontname=\"Sans-Serif\", fontsize=13, fontcolor=%q, margin=\"0.2,0.1\"];\n", fontColor)
	fmt.Fprintf(&buf, "  edge [color=%q];\n", edgeColor)
	buf.WriteString("\n")

	for _, n := range d.Nodes {
		if n.Cluster == "" {
			writeNode(&buf, "  ", n)
		}
	}

	for _, c := range d.Clusters {
		fmt.Fprintf(&buf, "\n  subgraph %q {\n", "cluster_"+c.ID)
		fmt.Fprintf(&buf, "    label=%q;\n", c.Label)
		fmt.Fprintf(&buf, "    style=\"rounded,filled\"; fillcolor=%q; color=%q; labeljust=l;\n", clusterFill, clusterColor)
		for _, n := range d.Nodes {
			if n.Cluster == c.ID {
				writeNode(&buf, "    ", n)
			}
		}
		buf.WriteString("  }\n")
	}

	buf.WriteString("\n")
	for _, e := range d.Edges {
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
	}
	buf.WriteString("}\n")
	return buf.String()
}

func writeNode(buf *bytes.Buffer, indent string, n Node) {
	attrs := kindAttrs[n.Kind]
	if attrs == "" {
		attrs = "shape=box"
	}
	fmt.Fprintf(buf, "%s%q [label=%q, %s];\n", indent, n.ID, n.Label, attrs)
}

// Render validates d and renders it in the given format. The dot format
// returns the DOT source without invoking Graphviz.
func Render(ctx context.Context, d *Diagram, format Format) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	dot := ToDOT(d)
	if format == FormatDOT {
		return []byte(dot), nil
	}

	var gvFormat graphviz.Format
	switch format {
	case FormatPNG:
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	case FormatJPG:
		gvFormat = graphviz.JPG
	default:
		return nil, serrors.New(serrors.ErrCodeUnsupported, "unsupported diagram format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInternal, err, "init graphviz")
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInternal, err, "parse DOT")
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, gvFormat, &buf); err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInternal, err, "render %s", format)
	}
	return buf.Bytes(), nil
}

// Write renders d and writes it to dir under [Filename]. An empty dir
// means the working directory. It returns the path written.
func Write(ctx context.Context, d *Diagram, dir string, format Format) (string, error) {
	data, err := Render(ctx, d, format)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", serrors.Wrap(serrors.ErrCodeInternal, err, "create %s", dir)
	}
	path := filepath.Join(dir, Filename(d.Title, format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", serrors.Wrap(serrors.ErrCodeInternal, err, "write %s", path)
	}
	return path, nil
}
