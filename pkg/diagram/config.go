package diagram

import (
	"fmt"

	"github.com/matzehuels/storagex/pkg/config"
)

// FromConfig returns the architecture diagram with the Cloud Providers
// cluster listing the backends configured in cfg, and the metadata node
// naming the configured driver. With no backends configured it shows
// Dropbox and Google Drive.
func FromConfig(cfg *config.Config) *Diagram {
	title := cfg.Diagram.Title
	if title == "" {
		title = DefaultTitle
	}
	direction := cfg.Diagram.Direction
	if direction == "" {
		direction = DirectionLR
	}

	metaLabel := "MetadataService (SQLite)"
	if cfg.Metadata.Driver == config.DriverPostgres {
		metaLabel = "MetadataService (PostgreSQL)"
	}

	providers := providerNodes(&cfg.Cloud)
	if len(providers) == 0 {
		return build(title, direction, metaLabel, Architecture().providers())
	}
	return build(title, direction, metaLabel, providers)
}

func (d *Diagram) providers() []Node {
	var out []Node
	for _, n := range d.Nodes {
		if n.Cluster == ClusterCloud {
			out = append(out, n)
		}
	}
	return out
}

// providerNodes returns one node per configured backend, numbered when a
// provider appears more than once.
func providerNodes(c *config.CloudConfig) []Node {
	var out []Node
	add := func(id, label string, n int) {
		for i := range n {
			node := Node{ID: id, Label: label, Kind: KindStorage}
			if n > 1 {
				node.ID = fmt.Sprintf("%s_%d", id, i+1)
				node.Label = fmt.Sprintf("%s #%d", label, i+1)
			}
			out = append(out, node)
		}
	}
	add(NodeDropbox, "Dropbox", len(c.DropboxAccessTokens))
	add(NodeGDrive, "Google Drive", len(c.GDrive))
	add("s3", "Amazon S3", len(c.S3))
	add("redis", "Redis", len(c.Redis))
	add("mongo", "MongoDB GridFS", len(c.Mongo))
	add("local", "Local Disk", len(c.Local))
	add("memory", "Memory", len(c.Memory))
	return out
}
