package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"interaction-pipeline/models"
	"interaction-pipeline/providers"
	"interaction-pipeline/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SourceArchivePrefix ist der Key-Präfix archivierter Quelldateien.
const SourceArchivePrefix = "sources/"

// DryRunNote steht im Audit-Eintrag jedes Probelaufs.
const DryRunNote = "DRY RUN"

// PipelineConfig enthält die Defaults der Ingestion; Nullwerte werden durch Defaults ersetzt.
type PipelineConfig struct {
	BatchSize        int
	StagingBatchSize int
	DisplayLimit     int
	VerifyWorkers    int
}

// Invalidator wird nach jedem Commit aufgerufen, z.B. um den Lookup-Cache zu leeren.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// RunOptions steuert einen einzelnen Lauf.
type RunOptions struct {
	Source     providers.Source
	DryRun     bool
	SkipVerify bool
	// BatchSize 0 verwendet PipelineConfig.BatchSize.
	BatchSize int
}

// RunReport ist das vollständige Ergebnis eines Laufs.
type RunReport struct {
	AuditID      string              `json:"audit_id"`
	Status       models.AuditStatus  `json:"status"`
	DryRun       bool                `json:"dry_run"`
	ArchiveURI   string              `json:"archive_uri,omitempty"`
	CSV          *CSVReport          `json:"csv,omitempty"`
	Validation   *ValidationReport   `json:"validation,omitempty"`
	Commit       *CommitResult       `json:"commit,omitempty"`
	Verification *VerificationReport `json:"verification,omitempty"`
}

// IngestionService orchestriert parse → archive → load → validate → commit → verify.
type IngestionService struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	Metrics   *Metrics
	Config    PipelineConfig
	Registry  *Registry
	Staging   *StagingLoader
	Validator *Validator
	Committer *Committer
	Verifier  *Verifier
	Audit     *AuditLog

	// Optional
	Archive     storage.ObjectStore
	Invalidator Invalidator

	mu sync.Mutex
}

// NewIngestionService baut alle Komponenten der Pipeline auf einer Datenbank auf.
func NewIngestionService(db *gorm.DB, logger *zap.Logger, metrics *Metrics, cfg PipelineConfig) *IngestionService {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StagingBatchSize <= 0 {
		cfg.StagingBatchSize = DefaultStagingBatchSize
	}
	if cfg.DisplayLimit <= 0 {
		cfg.DisplayLimit = DefaultDisplayLimit
	}
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = 4
	}

	registry := NewRegistry(db, logger)
	staging := NewStagingLoader(db, logger, cfg.StagingBatchSize)
	return &IngestionService{
		DB:        db,
		Logger:    logger,
		Metrics:   metrics,
		Config:    cfg,
		Registry:  registry,
		Staging:   staging,
		Validator: NewValidator(registry, staging, logger, cfg.DisplayLimit),
		Committer: NewCommitter(db, registry, staging, logger, metrics),
		Verifier:  NewVerifier(db, logger, metrics, VerifierConfig{Workers: cfg.VerifyWorkers}),
		Audit:     NewAuditLog(db, logger),
	}
}

// Run führt einen vollständigen Lauf aus. Jeder Endzustand steht im Audit-Eintrag,
// bevor Run zurückkehrt. Fehler sind *PipelineError, außer vor Anlage des Audit-Eintrags.
func (s *IngestionService) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if !s.mu.TryLock() {
		return nil, pipelineErr(KindUsage, "", ErrRunInProgress, nil)
	}
	defer s.mu.Unlock()

	if opts.Source == nil {
		return nil, pipelineErr(KindUsage, "", errors.New("no source given"), nil)
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = s.Config.BatchSize
	}
	if err := ValidateBatchSize(batchSize); err != nil {
		return nil, pipelineErr(KindUsage, "", err, nil)
	}

	entry := &models.IngestionAudit{
		SourceFile: opts.Source.Name(),
		DryRun:     opts.DryRun,
		SkipVerify: opts.SkipVerify,
		BatchSize:  batchSize,
	}
	if opts.DryRun {
		entry.Notes = DryRunNote
	}
	if err := s.Audit.Start(ctx, entry); err != nil {
		return nil, pipelineErr(KindStorage, "", err, nil)
	}

	run := &pipelineRun{svc: s, entry: entry, report: &RunReport{AuditID: entry.ID, DryRun: opts.DryRun}}
	run.log = s.Logger.With(zap.String("run_id", entry.ID), zap.String("source", entry.SourceFile))
	run.log.Info("Ingestion started", zap.Bool("dry_run", opts.DryRun), zap.Int("batch_size", batchSize))

	err := run.execute(ctx, opts, batchSize)
	run.report.Status = entry.Status
	s.Metrics.observeRun(entry.Status)
	return run.report, err
}

type pipelineRun struct {
	svc    *IngestionService
	entry  *models.IngestionAudit
	report *RunReport
	log    *zap.Logger
}

func (r *pipelineRun) stage(name string) {
	if err := r.svc.Audit.SetStage(r.entry, name); err != nil {
		r.log.Warn("Could not update audit stage", zap.String("stage", name), zap.Error(err))
	}
}

// fail schließt den Lauf als failed ab und gibt den klassifizierten Fehler zurück.
func (r *pipelineRun) fail(kind ErrorKind, err error, summary any) error {
	pe := pipelineErr(kind, r.entry.Stage, err, summary)
	if ferr := r.svc.Audit.Finish(r.entry, models.AuditFailed, pe, summary); ferr != nil {
		r.log.Error("Could not write final audit state", zap.Error(ferr))
	}
	r.log.Error("Ingestion failed", zap.String("kind", string(kind)), zap.String("stage", pe.Stage), zap.Error(err))
	return pe
}

func (r *pipelineRun) execute(ctx context.Context, opts RunOptions, batchSize int) error {
	s := r.svc

	// Staging gehört ab hier diesem Lauf, auch wenn das Parsen scheitert.
	if err := s.Staging.Truncate(ctx); err != nil {
		return r.fail(KindStorage, fmt.Errorf("truncate staging: %w", err), nil)
	}

	// Parse
	data, err := readSource(ctx, opts.Source)
	if err != nil {
		kind := KindStorage
		if errors.Is(err, providers.ErrInvalidSource) || errors.Is(err, os.ErrNotExist) {
			kind = KindUsage
		}
		return r.fail(kind, err, nil)
	}
	records, csvReport, err := ReadInteractionCSV(bytes.NewReader(data))
	if err != nil {
		return r.fail(KindStorage, fmt.Errorf("read csv: %w", err), nil)
	}
	r.report.CSV = csvReport
	r.entry.TotalRows = csvReport.TotalRows
	if !csvReport.OK() {
		r.entry.Errored = len(csvReport.RowErrors)
		return r.fail(KindValidation, fmt.Errorf("csv has %d structural errors", csvReport.Count()), csvReport)
	}

	// Archive
	if s.Archive != nil && !opts.DryRun {
		r.stage(models.StageArchive)
		key := fmt.Sprintf("%s%s/%s-%s", SourceArchivePrefix, time.Now().UTC().Format("2006-01-02"), r.entry.ID, path.Base(opts.Source.Name()))
		uri, err := s.Archive.Put(ctx, key, data)
		if err != nil {
			return r.fail(KindStorage, fmt.Errorf("archive source: %w", err), nil)
		}
		r.entry.ArchiveURI = uri
		r.report.ArchiveURI = uri
		r.log.Info("Source archived", zap.String("uri", uri))
	}

	// Load
	r.stage(models.StageLoad)
	staged, err := s.Staging.Load(ctx, r.entry.ID, records)
	if err != nil {
		return r.fail(KindStorage, err, nil)
	}
	r.entry.StagedRows = staged

	// Validate
	r.stage(models.StageValidate)
	n, err := s.Staging.Count(ctx, r.entry.ID)
	if err != nil {
		return r.fail(KindStorage, fmt.Errorf("count staging: %w", err), nil)
	}
	if int(n) != staged {
		return r.fail(KindStorage, fmt.Errorf("staging holds %d rows for this run, loaded %d: staging was modified by another run", n, staged), nil)
	}
	validation, err := s.Validator.Validate(ctx, r.entry.ID)
	if err != nil {
		return r.fail(KindStorage, err, nil)
	}
	r.report.Validation = validation
	r.entry.UnresolvedCount = len(validation.Unresolved)
	r.entry.MissingTokenCount = len(validation.MissingTokens)
	if !validation.OK() {
		return r.fail(KindValidation,
			fmt.Errorf("%d unresolved substances, %d missing token mappings", len(validation.Unresolved), len(validation.MissingTokens)),
			validation.Display())
	}

	// Commit
	status := models.AuditSuccess
	var commitErr error
	if !opts.DryRun {
		r.stage(models.StageCommit)
		result, err := s.Committer.Commit(ctx, r.entry.ID, batchSize)
		r.report.Commit = result
		if result != nil {
			r.entry.Inserted = result.Inserted
			r.entry.Updated = result.Updated
			r.entry.Skipped = result.Skipped
			r.entry.Errored = result.Errored
		}
		r.invalidate(ctx)
		if err != nil {
			return r.fail(KindStorage, err, result)
		}
		if result.Errored > 0 {
			status = models.AuditPartial
			commitErr = fmt.Errorf("%d of %d rows were not committed", result.Errored, result.Total)
		}
	}

	// Verify
	if !opts.SkipVerify {
		r.stage(models.StageVerify)
		if err := ctx.Err(); err != nil {
			return r.fail(KindStorage, err, nil)
		}
		verification := s.Verifier.Verify(ctx)
		r.report.Verification = verification
		failed := verification.Failed()
		r.entry.VerificationFailures = len(failed)
		if !verification.Passed {
			return r.fail(KindVerification, fmt.Errorf("%d integrity checks failed", len(failed)), failed)
		}
	}

	r.stage(models.StageDone)
	var summary any
	if r.report.Commit != nil && len(r.report.Commit.Errors) > 0 {
		summary = r.report.Commit.Errors
	}
	if err := s.Audit.Finish(r.entry, status, commitErr, summary); err != nil {
		return pipelineErr(KindStorage, models.StageDone, err, nil)
	}
	r.log.Info("Ingestion finished",
		zap.String("status", string(status)),
		zap.Int("inserted", r.entry.Inserted),
		zap.Int("updated", r.entry.Updated),
		zap.Int("skipped", r.entry.Skipped),
		zap.Int("errored", r.entry.Errored))
	if commitErr != nil {
		return pipelineErr(KindValidation, models.StageCommit, commitErr, r.report.Commit)
	}
	return nil
}

func (r *pipelineRun) invalidate(ctx context.Context) {
	if r.svc.Invalidator == nil {
		return
	}
	// auch nach Abbruch, bereits bestätigte Batches sind sichtbar
	if err := r.svc.Invalidator.Invalidate(context.WithoutCancel(ctx)); err != nil {
		r.log.Warn("Cache invalidation failed", zap.Error(err))
	}
}

func readSource(ctx context.Context, src providers.Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Name(), err)
	}
	return data, nil
}
