// Package pkg provides the core libraries for storageX distributed file storage.
//
// # Overview
//
// storageX splits files into fixed-size, checksummed chunks and spreads them
// over several storage providers, recording where each chunk lives in a
// metadata catalogue. The pkg directory is organized into these areas:
//
//  1. [chunker] - Chunk framing (header, checksum, split and parse)
//  2. [cloud] - The provider interface and its backends (Dropbox, Google
//     Drive, S3, Redis, MongoDB GridFS, local directories, memory)
//  3. [manager] - Backend registry, chunk placement, retries and failover
//  4. [metadata] - File and chunk catalogue on SQLite or PostgreSQL
//  5. [storage] - Orchestration of uploads, downloads and deletes
//  6. [server] - The HTTP API over the storage service
//  7. [diagram] - The architecture diagram, rendered with Graphviz
//
// # Architecture
//
// The data flow of an upload:
//
//	File
//	  ↓
//	[storage] Service.Upload
//	  ↓
//	[chunker] FileChunker.Stream (header + SHA-256 per chunk)
//	  ↓
//	[manager] Manager.UploadChunk (placement, retry, failover)
//	  ↓
//	[cloud] Storage.Upload on the chosen backend
//	  ↓
//	[metadata] Store.AddChunk, then Store.CompleteFile
//
// Downloads walk the same path in reverse and verify every chunk checksum
// and the whole-file hash before writing anything.
//
// # Quick Start
//
// Assemble the stack from a configuration and store a file:
//
//	import (
//	    "github.com/matzehuels/storagex/pkg/app"
//	    "github.com/matzehuels/storagex/pkg/config"
//	)
//
//	cfg, _ := config.Load("storagex.toml")
//	config.LookupSecrets(cfg)
//
//	b, err := app.NewBundle(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	f, err := b.Storage.UploadFile(ctx, "report.pdf")
//	data, err := b.Storage.Bytes(ctx, "report.pdf")
//
// # Testing
//
// Run tests:
//
//	go test ./pkg/...                  # All tests
//	go test ./pkg/cloud/...            # Backends (live providers skip without credentials)
//	STORAGEX_TEST_POSTGRES_DSN=... go test ./pkg/metadata
//
// [chunker]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/chunker
// [cloud]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/cloud
// [manager]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/manager
// [metadata]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/metadata
// [storage]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/storage
// [server]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/server
// [diagram]: https://pkg.go.dev/github.com/matzehuels/storagex/pkg/diagram
package pkg
