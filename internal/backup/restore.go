package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/database"
	"odoo-backup-tool/internal/filestore"
	"odoo-backup-tool/internal/logging"
	"odoo-backup-tool/internal/neutralize"
	"odoo-backup-tool/internal/transport"
)

// RestoreStage names the phases of a restore run. Everything before
// Promoting only touches the staging area; the live instance is first
// modified when Promoting begins.
type RestoreStage string

const (
	StageIdle         RestoreStage = "idle"
	StageExtracting   RestoreStage = "extracting"
	StageStaged       RestoreStage = "staged"
	StagePromoting    RestoreStage = "promoting"
	StageNeutralizing RestoreStage = "neutralizing"
	StageDone         RestoreStage = "done"
	StageFailed       RestoreStage = "failed"
)

// ErrPromotionStarted is returned by RequestCancel once the live
// instance is already being modified.
var ErrPromotionStarted = errors.New("cannot cancel: promotion has started")

// errCancelled aborts a run between stages after RequestCancel.
var errCancelled = errors.New("restore cancelled before promotion")

// RestoreReport describes what a restore actually did to the target.
type RestoreReport struct {
	Database          string              `json:"database"`
	Stage             RestoreStage        `json:"stage"`
	DatabaseRestored  bool                `json:"database_restored"`
	FilestoreRestored bool                `json:"filestore_restored"`
	ShardCount        int                 `json:"shard_count,omitempty"`
	// FilestoreBackup is where the previous live tree was moved aside,
	// if one existed. It is never deleted automatically.
	FilestoreBackup string             `json:"filestore_backup,omitempty"`
	Neutralization  *neutralize.Report `json:"neutralization,omitempty"`
	Duration        time.Duration      `json:"duration"`
}

// RestoreOrchestrator replays an archive into a live instance through a
// staging area. The destination is untouched until every staged input
// has been extracted and verified.
type RestoreOrchestrator struct {
	target      InstanceConfig
	codec       *archive.Codec
	transport   transport.Transport
	newAdapter  AdapterFactory
	neutralize  NeutralizeFunc
	logger      *logging.Logger
	sink        EventSink
	stagingBase string

	mu        sync.Mutex
	stage     RestoreStage
	cancelled bool
}

// NewRestoreOrchestrator wires a restore orchestrator for the target
// instance, dialing SSH when the filestore is remote.
func NewRestoreOrchestrator(target InstanceConfig, logger *logging.Logger) (*RestoreOrchestrator, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	var t transport.Transport
	if target.Remote() {
		ssh, err := transport.DialSSH(*target.SSH, logger)
		if err != nil {
			return nil, err
		}
		t = ssh
	} else {
		t = transport.NewLocal()
	}

	return &RestoreOrchestrator{
		target:     target,
		codec:      archive.NewCodec(logger),
		transport:  t,
		newAdapter: defaultAdapterFactory(logger),
		neutralize: defaultNeutralizeFunc(logger),
		logger:     logger,
		stage:      StageIdle,
	}, nil
}

// SetEventSink directs progress events to sink.
func (r *RestoreOrchestrator) SetEventSink(sink EventSink) {
	r.sink = sink
}

// Close releases the transport connection.
func (r *RestoreOrchestrator) Close() error {
	return r.transport.Close()
}

// Stage returns the current stage of the run.
func (r *RestoreOrchestrator) Stage() RestoreStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// RequestCancel asks a running restore to stop at the next stage
// boundary. Once promotion has started the request is refused: aborting
// mid-promotion would leave the instance half written.
func (r *RestoreOrchestrator) RequestCancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.stage {
	case StagePromoting, StageNeutralizing:
		return ErrPromotionStarted
	case StageDone, StageFailed:
		return fmt.Errorf("restore already finished in stage %s", r.stage)
	}
	r.cancelled = true
	return nil
}

func (r *RestoreOrchestrator) setStage(stage RestoreStage) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
	r.logger.LogRestoreStage(string(stage), r.target.Database.Database, "")
}

// interrupted reports a pending cancellation or context expiry. Only
// consulted between stages, never inside promotion.
func (r *RestoreOrchestrator) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return errCancelled
	}
	return nil
}

// Restore extracts archivePath into staging, verifies it, then promotes
// the staged data into the target instance. The staging area is
// destroyed on every exit path. Once promotion begins the run ignores
// context cancellation; a failure after that point is reported with the
// destination's state, never silently rolled back.
func (r *RestoreOrchestrator) Restore(ctx context.Context, archivePath string, opts RestoreOptions) (*RestoreReport, error) {
	start := time.Now()

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sink := sinkOrDiscard(r.sink)
	report := &RestoreReport{Database: opts.TargetDatabase, Stage: StageIdle}

	fail := func(stage RestoreStage, intact, partial bool, cause error) (*RestoreReport, error) {
		r.setStage(StageFailed)
		report.Stage = StageFailed
		report.Duration = time.Since(start)
		sink.Publish(Event{Step: string(stage), Status: EventFailed, Detail: cause.Error()})
		return report, &StageError{
			Stage:             stage,
			Database:          opts.TargetDatabase,
			DestinationIntact: intact,
			PartialPromotion:  partial,
			Cause:             cause,
		}
	}

	staging, err := NewStagingArea(r.stagingBase)
	if err != nil {
		return fail(StageIdle, true, false, err)
	}
	defer func() {
		if err := staging.Destroy(); err != nil {
			r.logger.Warnf("Failed to clean up staging area: %v", err)
		}
	}()

	// Extracting: everything lands in staging, the live instance is not
	// touched.
	r.setStage(StageExtracting)
	sink.Publish(Event{Step: "extract", Status: EventStarted, Detail: archivePath})

	unpacked, err := r.extract(ctx, archivePath, staging, opts)
	if err != nil {
		return fail(StageExtracting, true, false, err)
	}

	stagedDump, stagedRoot, shardCount, err := r.verifyStaged(unpacked, opts)
	if err != nil {
		return fail(StageExtracting, true, false, err)
	}
	report.ShardCount = shardCount
	sink.Publish(Event{Step: "extract", Status: EventDone})

	r.setStage(StageStaged)
	if err := r.interrupted(ctx); err != nil {
		r.setStage(StageFailed)
		report.Stage = StageFailed
		return report, err
	}

	// Promoting: from here on cancellation is ignored. An external
	// context cancel must not abort a half-written instance.
	r.setStage(StagePromoting)
	promoteCtx := context.WithoutCancel(ctx)

	if stagedDump != "" {
		sink.Publish(Event{Step: "promote_database", Status: EventStarted, Detail: opts.TargetDatabase})
		adapter := r.newAdapter(r.target.Database.WithDatabase(opts.TargetDatabase))

		if err := adapter.EnsureFreshDatabase(promoteCtx); err != nil {
			return fail(StagePromoting, destinationIntactAfter(err), false, err)
		}
		if err := adapter.Restore(promoteCtx, stagedDump); err != nil {
			return fail(StagePromoting, false, false, err)
		}
		report.DatabaseRestored = true
		sink.Publish(Event{Step: "promote_database", Status: EventDone})
	}

	if stagedRoot != "" {
		sink.Publish(Event{Step: "promote_filestore", Status: EventStarted})

		backupPath, err := r.promoteFilestore(promoteCtx, stagedRoot, opts.TargetDatabase)
		report.FilestoreBackup = backupPath
		if err != nil {
			// Database may already be live with the new contents.
			return fail(StagePromoting, !report.DatabaseRestored && backupPath == "", report.DatabaseRestored, err)
		}
		report.FilestoreRestored = true
		sink.Publish(Event{Step: "promote_filestore", Status: EventDone, Detail: backupPath})
	}

	if opts.Neutralize && report.DatabaseRestored {
		r.setStage(StageNeutralizing)
		sink.Publish(Event{Step: "neutralize", Status: EventStarted})

		policy := neutralize.DefaultPolicy()
		if opts.NeutralizePolicyPath != "" {
			policy, err = neutralize.LoadPolicy(opts.NeutralizePolicyPath)
			if err != nil {
				return fail(StageNeutralizing, false, report.FilestoreRestored, err)
			}
		}

		neutReport, err := r.neutralize(promoteCtx, r.target.Database.WithDatabase(opts.TargetDatabase), policy)
		report.Neutralization = neutReport
		if err != nil {
			return fail(StageNeutralizing, false, true, NewNeutralizeError("neutralization failed", err))
		}
		sink.Publish(Event{Step: "neutralize", Status: EventDone})
	}

	r.setStage(StageDone)
	report.Stage = StageDone
	report.Duration = time.Since(start)
	return report, nil
}

// extract decrypts the archive if necessary and unpacks it into staging.
func (r *RestoreOrchestrator) extract(ctx context.Context, archivePath string, staging *StagingArea, opts RestoreOptions) (*archive.UnpackResult, error) {
	encrypted, err := archive.IsEncrypted(archivePath)
	if err != nil {
		return nil, NewArchiveError("reading archive header", err)
	}
	if encrypted {
		if opts.EncryptionPassphrase == "" {
			return nil, NewEncryptionError("archive is encrypted and no passphrase was given", nil)
		}
		plain := staging.Path("archive.tar")
		if err := archive.DecryptFile(archivePath, plain, opts.EncryptionPassphrase); err != nil {
			return nil, err
		}
		archivePath = plain
	}

	return r.codec.Unpack(ctx, archivePath, staging.Path("extracted"))
}

// verifyStaged checks the staged contents against the requested mode
// and renames the staged filestore to the target database's identity.
// It returns the dump path and filestore root the promotion should use.
func (r *RestoreOrchestrator) verifyStaged(unpacked *archive.UnpackResult, opts RestoreOptions) (string, string, int, error) {
	wantDB := opts.Mode() != ModeFilestoreOnly
	wantFS := opts.Mode() != ModeDatabaseOnly

	if opts.Mode() == ModeDatabaseOnly && !unpacked.Metadata.HasDatabase {
		return "", "", 0, NewValidationError("archive contains no database dump", nil)
	}
	if opts.Mode() == ModeFilestoreOnly && !unpacked.Metadata.HasFilestore {
		return "", "", 0, NewValidationError("archive contains no filestore", nil)
	}
	if !unpacked.Metadata.HasDatabase && !unpacked.Metadata.HasFilestore {
		return "", "", 0, NewValidationError("archive is empty", nil)
	}

	var stagedDump string
	if wantDB && unpacked.DumpPath != "" {
		stagedDump = unpacked.DumpPath
	}

	var stagedRoot string
	shardCount := 0
	if wantFS && unpacked.FilestoreRoot != "" {
		renamed, err := filestore.RenameRoot(unpacked.FilestoreRoot, opts.TargetDatabase)
		if err != nil {
			return "", "", 0, err
		}
		tree, err := filestore.Open(renamed)
		if err != nil {
			return "", "", 0, NewFilestoreError("staged filestore is not usable", err)
		}
		shards, err := tree.Shards()
		if err != nil {
			return "", "", 0, NewFilestoreError("enumerating staged shards", err)
		}
		stagedRoot = renamed
		shardCount = len(shards)
	}

	if stagedDump == "" && stagedRoot == "" {
		return "", "", 0, NewValidationError("nothing in the archive matches the requested mode", nil)
	}
	return stagedDump, stagedRoot, shardCount, nil
}

// promoteFilestore moves the live tree aside, then pushes the staged
// tree into its place. Returns the move-aside path, empty when no live
// tree existed.
func (r *RestoreOrchestrator) promoteFilestore(ctx context.Context, stagedRoot, targetDatabase string) (string, error) {
	liveRoot := filestore.ResolveRoot(r.target.FilestorePath, targetDatabase)

	exists, err := r.transport.Exists(ctx, liveRoot)
	if err != nil {
		return "", NewFilestoreError("checking live filestore", err)
	}

	backupPath := ""
	if exists {
		backupPath, err = r.moveAsideLive(ctx, liveRoot)
		if err != nil {
			return "", NewFilestoreError("moving aside live filestore", err)
		}
	}

	if err := r.transport.PushTree(ctx, stagedRoot, liveRoot); err != nil {
		return backupPath, NewFilestoreError("promoting staged filestore", err)
	}
	return backupPath, nil
}

func (r *RestoreOrchestrator) moveAsideLive(ctx context.Context, liveRoot string) (string, error) {
	if r.transport.Kind() == "local" {
		return filestore.MoveAside(liveRoot)
	}
	bak := fmt.Sprintf("%s.bak.%s", liveRoot, time.Now().Format("20060102150405"))
	if err := r.transport.Rename(ctx, liveRoot, bak); err != nil {
		return "", err
	}
	return bak, nil
}

// destinationIntactAfter inspects a database promotion error: a failure
// to terminate sessions happens before anything is dropped, so the
// destination database is still whole.
func destinationIntactAfter(err error) bool {
	var restoreErr *database.RestoreError
	if errors.As(err, &restoreErr) {
		return restoreErr.Step == "terminate_connections"
	}
	return false
}
