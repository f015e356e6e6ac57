package config

const appName = "storagex"

// Built-in defaults.
const (
	DefaultChunkSize       = 1024 * 1024 // 1 MiB serialized chunks
	DefaultDBPath          = "metadata.db"
	DefaultLogDebug        = false
	DefaultUploadWorkers   = 4
	DefaultDownloadWorkers = 4
	DefaultCacheTTL        = "168h"
	DefaultServerAddr      = ":8080"
	DefaultDiagramTitle    = "storageX System Architecture"
)
