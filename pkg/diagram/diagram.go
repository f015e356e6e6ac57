// Package diagram renders the storageX architecture diagram.
//
// The diagram is a small declarative model: labelled nodes of a few kinds,
// optional clusters grouping nodes, and directed edges kept in declaration
// order. [Architecture] returns the canonical model, [FromConfig] derives
// the cloud provider cluster from a configuration, and [Write] renders the
// model with Graphviz into a file named after the diagram title.
//
//	d := diagram.Architecture()
//	path, err := diagram.Write(ctx, d, ".", diagram.FormatPNG)
//	// path == "storagex_system_architecture.png"
package diagram

import (
	"fmt"
	"slices"
	"strings"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

// Kind selects how a node is drawn.
type Kind string

const (
	KindClient   Kind = "client"
	KindServer   Kind = "server"
	KindSQL      Kind = "sql"
	KindDatabase Kind = "database"
	KindStorage  Kind = "storage"
)

// Layout directions accepted in Diagram.Direction.
const (
	DirectionLR = "LR"
	DirectionRL = "RL"
	DirectionTB = "TB"
	DirectionBT = "BT"
)

// Node is a labelled box in the diagram.
type Node struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    Kind   `json:"kind"`
	Cluster string `json:"cluster,omitempty"` // Cluster.ID, or empty
}

// Cluster groups nodes under a caption.
type Cluster struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Edge is a directed connection between two node IDs.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Diagram is a complete architecture diagram.
type Diagram struct {
	Title     string    `json:"title"`
	Direction string    `json:"direction"`
	Nodes     []Node    `json:"nodes"`
	Clusters  []Cluster `json:"clusters"`
	Edges     []Edge    `json:"edges"`
}

// Node IDs of the architecture diagram.
const (
	NodeUser           = "user"
	NodeCLI            = "cli"
	NodeConfig         = "config"
	NodeChunker        = "chunker"
	NodeStorageService = "storage_svc"
	NodeManager        = "manager"
	NodeMetadata       = "meta"
	NodeDropbox        = "dropbox"
	NodeGDrive         = "gdrive"

	ClusterCloud = "cloud"
)

// DefaultTitle is the title of the architecture diagram.
const DefaultTitle = "storageX System Architecture"

// Architecture returns the storageX system architecture diagram.
func Architecture() *Diagram {
	return build(DefaultTitle, DirectionLR, "MetadataService (SQLite)", []Node{
		{ID: NodeDropbox, Label: "Dropbox", Kind: KindStorage},
		{ID: NodeGDrive, Label: "Google Drive", Kind: KindStorage},
	})
}

func build(title, direction, metaLabel string, providers []Node) *Diagram {
	d := &Diagram{
		Title:     title,
		Direction: direction,
		Nodes: []Node{
			{ID: NodeUser, Label: "User", Kind: KindClient},
			{ID: NodeCLI, Label: "CLI/Service", Kind: KindServer},
			{ID: NodeConfig, Label: "Config (JSON)", Kind: KindSQL},
			{ID: NodeChunker, Label: "Chunker", Kind: KindServer},
			{ID: NodeStorageService, Label: "StorageService (Orchestration)", Kind: KindServer},
			{ID: NodeManager, Label: "StorageManager (Cloud Ops)", Kind: KindServer},
			{ID: NodeMetadata, Label: metaLabel, Kind: KindDatabase},
		},
		Clusters: []Cluster{{ID: ClusterCloud, Label: "Cloud Providers"}},
		Edges: []Edge{
			{NodeUser, NodeCLI},
			{NodeCLI, NodeStorageService},
			{NodeUser, NodeConfig},
			{NodeConfig, NodeStorageService},
			{NodeStorageService, NodeChunker},
			{NodeStorageService, NodeManager},
			{NodeStorageService, NodeMetadata},
		},
	}
	for _, p := range providers {
		p.Cluster = ClusterCloud
		d.Nodes = append(d.Nodes, p)
		d.Edges = append(d.Edges, Edge{NodeManager, p.ID})
	}
	d.Edges = append(d.Edges, Edge{NodeMetadata, NodeStorageService})
	return d
}

// Node returns the node with the given ID.
func (d *Diagram) Node(id string) (Node, bool) {
	i := slices.IndexFunc(d.Nodes, func(n Node) bool { return n.ID == id })
	if i < 0 {
		return Node{}, false
	}
	return d.Nodes[i], true
}

// Validate checks that node IDs are unique, that edges and cluster
// memberships reference known IDs, and that the direction is supported.
func (d *Diagram) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return serrors.New(serrors.ErrCodeInvalidInput, "diagram title cannot be empty")
	}
	switch d.Direction {
	case DirectionLR, DirectionRL, DirectionTB, DirectionBT:
	default:
		return serrors.New(serrors.ErrCodeInvalidInput, "unknown diagram direction %q", d.Direction)
	}

	clusters := make(map[string]bool, len(d.Clusters))
	for _, c := range d.Clusters {
		if clusters[c.ID] {
			return serrors.New(serrors.ErrCodeInvalidInput, "duplicate cluster %q", c.ID)
		}
		clusters[c.ID] = true
	}

	nodes := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return serrors.New(serrors.ErrCodeInvalidInput, "node %q has no id", n.Label)
		}
		if nodes[n.ID] {
			return serrors.New(serrors.ErrCodeInvalidInput, "duplicate node %q", n.ID)
		}
		if n.Cluster != "" && !clusters[n.Cluster] {
			return serrors.New(serrors.ErrCodeInvalidInput, "node %q references unknown cluster %q", n.ID, n.Cluster)
		}
		nodes[n.ID] = true
	}

	for _, e := range d.Edges {
		if !nodes[e.From] || !nodes[e.To] {
			return serrors.New(serrors.ErrCodeInvalidInput, "edge %s -> %s references unknown node", e.From, e.To)
		}
	}
	return nil
}

// Filename returns the output file name for the diagram: the title's words
// joined with underscores, lowercased, with the format as extension.
func Filename(title string, format Format) string {
	return fmt.Sprintf("%s.%s", strings.ToLower(strings.Join(strings.Fields(title), "_")), format)
}
