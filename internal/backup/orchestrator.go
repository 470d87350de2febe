package backup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"odoo-backup-tool/internal/archive"
	apperrors "odoo-backup-tool/internal/errors"
	"odoo-backup-tool/internal/filestore"
	"odoo-backup-tool/internal/logging"
	"odoo-backup-tool/internal/transport"
)

// BackupOrchestrator captures an instance into a single archive and
// persists it. A backup only counts once the archive has landed in the
// durable store; nothing short-circuits the Store call.
type BackupOrchestrator struct {
	source      InstanceConfig
	codec       *archive.Codec
	transport   transport.Transport
	newAdapter  AdapterFactory
	storage     StorageProvider
	retention   *RetentionManager
	logger      *logging.Logger
	sink        EventSink
	workBase    string
	toolVersion string
}

// NewBackupOrchestrator wires a backup orchestrator for the source
// instance, dialing SSH when the filestore is remote.
func NewBackupOrchestrator(source InstanceConfig, storage StorageProvider, logger *logging.Logger) (*BackupOrchestrator, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if storage == nil {
		return nil, NewConfigurationError("a storage provider is required", nil)
	}

	var t transport.Transport
	if source.Remote() {
		ssh, err := transport.DialSSH(*source.SSH, logger)
		if err != nil {
			return nil, err
		}
		t = ssh
	} else {
		t = transport.NewLocal()
	}

	return &BackupOrchestrator{
		source:     source,
		codec:      archive.NewCodec(logger),
		transport:  t,
		newAdapter: defaultAdapterFactory(logger),
		storage:    storage,
		logger:     logger,
	}, nil
}

// SetEventSink directs progress events to sink.
func (b *BackupOrchestrator) SetEventSink(sink EventSink) {
	b.sink = sink
}

// SetRetention enables pruning after each successful backup.
func (b *BackupOrchestrator) SetRetention(policy RetentionPolicy) {
	b.retention = NewRetentionManager(b.storage, policy, b.logger)
}

// SetToolVersion stamps archives with the producing binary's version.
func (b *BackupOrchestrator) SetToolVersion(version string) {
	b.toolVersion = version
}

// Close releases the transport connection.
func (b *BackupOrchestrator) Close() error {
	return b.transport.Close()
}

// Backup dumps the database and snapshots the filestore concurrently,
// packs both into one archive, and persists it. Returns the stored
// artifact's metadata.
func (b *BackupOrchestrator) Backup(ctx context.Context, opts BackupOptions) (*ArtifactMetadata, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sink := sinkOrDiscard(b.sink)
	mode := opts.Mode()
	databaseName := b.source.Database.Database

	adapter := b.newAdapter(b.source.Database)
	if mode != ModeFilestoreOnly {
		if err := adapter.CheckClientTools(); err != nil {
			return nil, err
		}
		if err := adapter.TestConnection(ctx); err != nil {
			return nil, NewDatabaseError("source database is not reachable", err)
		}
	}

	workDir, err := os.MkdirTemp(b.workBase, "backup-work-")
	if err != nil {
		return nil, NewFilestoreError("creating work directory", err)
	}
	defer os.RemoveAll(workDir)

	done := b.logger.LogOperationStart("backup", map[string]interface{}{
		"database": databaseName,
		"mode":     string(mode),
	})

	var (
		wg       sync.WaitGroup
		dumpPath string
		dumpErr  error
		snapRoot string
		snapErr  error
	)

	if mode != ModeFilestoreOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Publish(Event{Step: "dump", Status: EventStarted, Detail: databaseName})
			path := filepath.Join(workDir, "dump.sql")
			if err := adapter.Dump(ctx, path); err != nil {
				dumpErr = err
				sink.Publish(Event{Step: "dump", Status: EventFailed, Detail: err.Error()})
				return
			}
			dumpPath = path
			sink.Publish(Event{Step: "dump", Status: EventDone})
		}()
	}

	if mode != ModeDatabaseOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Publish(Event{Step: "snapshot", Status: EventStarted})
			root, err := b.snapshotFilestore(ctx, filepath.Join(workDir, "filestore"))
			if err != nil {
				snapErr = err
				sink.Publish(Event{Step: "snapshot", Status: EventFailed, Detail: err.Error()})
				return
			}
			snapRoot = root
			sink.Publish(Event{Step: "snapshot", Status: EventDone})
		}()
	}

	wg.Wait()
	if dumpErr != nil {
		done(dumpErr)
		return nil, dumpErr
	}
	if snapErr != nil {
		done(snapErr)
		return nil, snapErr
	}

	shardCount, fileCount := 0, 0
	if snapRoot != "" {
		tree, err := filestore.Open(snapRoot)
		if err != nil {
			done(err)
			return nil, NewFilestoreError("opening filestore snapshot", err)
		}
		shards, err := tree.Shards()
		if err != nil {
			done(err)
			return nil, err
		}
		shardCount = len(shards)
		if fileCount, err = tree.FileCount(); err != nil {
			done(err)
			return nil, err
		}
	}

	artifactID := GenerateArtifactID()
	archivePath := filepath.Join(workDir, artifactID+opts.Compression.Extension())

	sink.Publish(Event{Step: "pack", Status: EventStarted, Detail: archivePath})
	err = b.codec.Pack(ctx, archive.PackOptions{
		OutputPath: archivePath,
		Metadata: archive.Metadata{
			BackupID:    artifactID,
			Database:    databaseName,
			CreatedAt:   time.Now().UTC(),
			ShardCount:  shardCount,
			FileCount:   fileCount,
			ToolVersion: b.toolVersion,
		},
		DumpPath:      dumpPath,
		FilestoreRoot: snapRoot,
		Format:        opts.Compression,
		Level:         opts.Level,
	})
	if err != nil {
		done(err)
		return nil, NewArchiveError("packing archive", err)
	}
	sink.Publish(Event{Step: "pack", Status: EventDone})

	encrypted := false
	if opts.EncryptionPassphrase != "" {
		sealed := archivePath + ".enc"
		if err := archive.EncryptFile(archivePath, sealed, opts.EncryptionPassphrase); err != nil {
			done(err)
			return nil, err
		}
		os.Remove(archivePath)
		archivePath = sealed
		encrypted = true
	}

	checksum, err := ChecksumFile(archivePath)
	if err != nil {
		done(err)
		return nil, NewStorageError("computing archive checksum", err)
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		done(err)
		return nil, NewStorageError("reading archive size", err)
	}

	meta := &ArtifactMetadata{
		ID:          artifactID,
		Database:    databaseName,
		Mode:        mode,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   CurrentUser(),
		Description: opts.Description,
		Tags:        opts.Tags,
		Size:        info.Size(),
		Compression: string(opts.Compression),
		Encrypted:   encrypted,
		ShardCount:  shardCount,
		FileCount:   fileCount,
		Checksum:    checksum,
		Status:      ArtifactStatusCompleted,
	}

	// Transient store failures (network, throttling) are retried;
	// anything permanent fails the whole run.
	sink.Publish(Event{Step: "store", Status: EventStarted})
	err = apperrors.NewDefaultRetryHandler().Retry(ctx, func() error {
		return b.storage.Store(ctx, archivePath, meta)
	})
	if err != nil {
		done(err)
		sink.Publish(Event{Step: "store", Status: EventFailed, Detail: err.Error()})
		return nil, err
	}
	sink.Publish(Event{Step: "store", Status: EventDone, Detail: meta.StorageLocation})

	if b.retention != nil {
		if _, err := b.retention.Apply(ctx, databaseName); err != nil {
			b.logger.Warnf("Retention pass failed: %v", err)
		}
	}

	done(nil)
	return meta, nil
}

// snapshotFilestore copies the live shard directories into destRoot,
// locally or over the transport.
func (b *BackupOrchestrator) snapshotFilestore(ctx context.Context, destRoot string) (string, error) {
	liveRoot := filestore.ResolveRoot(b.source.FilestorePath, b.source.Database.Database)

	exists, err := b.transport.Exists(ctx, liveRoot)
	if err != nil {
		return "", NewFilestoreError("checking filestore root", err)
	}
	if !exists {
		return "", NewFilestoreError("filestore root "+liveRoot+" does not exist", nil)
	}

	if b.transport.Kind() == "local" {
		tree, err := filestore.Open(liveRoot)
		if err != nil {
			return "", err
		}
		if err := tree.SnapshotTo(destRoot); err != nil {
			return "", err
		}
		return destRoot, nil
	}

	entries, err := b.transport.ListDir(ctx, liveRoot)
	if err != nil {
		return "", NewFilestoreError("listing remote filestore", err)
	}
	var shards []string
	for _, entry := range entries {
		if filestore.IsShardName(entry) {
			shards = append(shards, entry)
		}
	}
	sort.Strings(shards)

	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return "", NewFilestoreError("creating snapshot root", err)
	}
	if err := transport.PullShards(ctx, b.transport, liveRoot, destRoot, shards); err != nil {
		return "", err
	}
	return destRoot, nil
}
