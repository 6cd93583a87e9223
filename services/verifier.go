package services

import (
	"context"
	"fmt"
	"time"

	"interaction-pipeline/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Namen der Integritätschecks.
const (
	CheckTokenIdempotence    = "token_idempotence"
	CheckPairOrdering        = "pair_ordering"
	CheckOrphanTokens        = "orphan_tokens"
	CheckOrphanInteractions  = "orphan_interactions"
	CheckDuplicateTokens     = "duplicate_tokens"
	CheckDuplicatePairs      = "duplicate_pairs"
	CheckSymmetricDuplicates = "symmetric_duplicates"
)

// CheckResult ist das Ergebnis eines einzelnen Checks.
type CheckResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Passed      bool          `json:"passed"`
	Violations  int64         `json:"violations"`
	Samples     []string      `json:"samples,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// VerificationReport fasst alle Checks zusammen; Passed ist die Konjunktion.
type VerificationReport struct {
	Checks     []CheckResult `json:"checks"`
	Passed     bool          `json:"passed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Failed liefert alle nicht bestandenen Checks.
func (r *VerificationReport) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Check liefert das Ergebnis eines Checks nach Namen.
func (r *VerificationReport) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// VerifierConfig steuert Parallelität und Beispielumfang.
type VerifierConfig struct {
	Workers     int
	SampleLimit int
}

type integrityCheck struct {
	name        string
	description string
	run         func(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error)
}

// Verifier führt die Integritätschecks gegen die kanonischen Tabellen aus.
type Verifier struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Metrics *Metrics
	Config  VerifierConfig

	checks []integrityCheck
}

// NewVerifier erstellt einen Verifier mit allen sieben Checks.
func NewVerifier(db *gorm.DB, logger *zap.Logger, metrics *Metrics, cfg VerifierConfig) *Verifier {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 10
	}
	return &Verifier{
		DB:      db,
		Logger:  logger,
		Metrics: metrics,
		Config:  cfg,
		checks: []integrityCheck{
			{CheckTokenIdempotence, "every token equals its own normalization", checkTokenIdempotence},
			{CheckPairOrdering, "every interaction has a_substance_id < b_substance_id", checkPairOrdering},
			{CheckOrphanTokens, "every token references an existing substance", checkOrphanTokens},
			{CheckOrphanInteractions, "every interaction references existing substances on both sides", checkOrphanInteractions},
			{CheckDuplicateTokens, "no token maps to more than one substance", checkDuplicateTokens},
			{CheckDuplicatePairs, "no canonical pair appears in more than one interaction", checkDuplicatePairs},
			{CheckSymmetricDuplicates, "no pair is stored as both (a,b) and (b,a)", checkSymmetricDuplicates},
		},
	}
}

// Verify führt alle Checks unabhängig voneinander aus. Ein Fehler oder Panic in einem
// Check markiert nur diesen Check als nicht bestanden.
func (v *Verifier) Verify(ctx context.Context) *VerificationReport {
	report := &VerificationReport{
		Checks:    make([]CheckResult, len(v.checks)),
		StartedAt: time.Now().UTC(),
	}

	var g errgroup.Group
	g.SetLimit(v.Config.Workers)
	for i, chk := range v.checks {
		g.Go(func() error {
			report.Checks[i] = v.runCheck(ctx, chk)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	report.Passed = true
	for _, c := range report.Checks {
		v.Metrics.observeCheck(c)
		if !c.Passed {
			report.Passed = false
			v.Logger.Warn("Integrity check failed",
				zap.String("check", c.Name),
				zap.Int64("violations", c.Violations),
				zap.String("error", c.Error))
		}
	}
	v.Logger.Info("Integrity verification finished",
		zap.Bool("passed", report.Passed),
		zap.Int("failed_checks", len(report.Failed())),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report
}

func (v *Verifier) runCheck(ctx context.Context, chk integrityCheck) (res CheckResult) {
	start := time.Now()
	res = CheckResult{Name: chk.name, Description: chk.description}
	defer func() {
		if r := recover(); r != nil {
			res.Passed = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	n, samples, err := chk.run(ctx, v.DB.WithContext(ctx), v.Config.SampleLimit)
	res.Violations = n
	res.Samples = samples
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Passed = n == 0
	return res
}

func checkTokenIdempotence(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	var violations int64
	var samples []string
	var batch []models.SubstanceToken
	err := db.Model(&models.SubstanceToken{}).Select("id", "token").
		FindInBatches(&batch, 1000, func(tx *gorm.DB, _ int) error {
			for _, t := range batch {
				if t.Token == EmptyToken || Normalize(t.Token) != t.Token {
					violations++
					if len(samples) < sampleLimit {
						samples = append(samples, fmt.Sprintf("%q -> %q", t.Token, Normalize(t.Token)))
					}
				}
			}
			return nil
		}).Error
	return violations, samples, err
}

func checkPairOrdering(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	var n int64
	if err := db.Model(&models.Interaction{}).Where("a_substance_id >= b_substance_id").Count(&n).Error; err != nil {
		return 0, nil, err
	}
	var ids []string
	if n > 0 {
		if err := db.Model(&models.Interaction{}).Where("a_substance_id >= b_substance_id").
			Limit(sampleLimit).Pluck("id", &ids).Error; err != nil {
			return n, nil, err
		}
	}
	return n, ids, nil
}

func checkOrphanTokens(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	var n int64
	err := db.Model(&models.SubstanceToken{}).
		Where("NOT EXISTS (SELECT 1 FROM substances s WHERE s.id = substance_tokens.substance_id)").
		Count(&n).Error
	return n, nil, err
}

func checkOrphanInteractions(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	var n int64
	err := db.Model(&models.Interaction{}).
		Where("NOT EXISTS (SELECT 1 FROM substances s WHERE s.id = interactions.a_substance_id)").
		Or("NOT EXISTS (SELECT 1 FROM substances s WHERE s.id = interactions.b_substance_id)").
		Count(&n).Error
	return n, nil, err
}

func checkDuplicateTokens(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	var tokens []string
	err := db.Model(&models.SubstanceToken{}).
		Select("token").
		Group("token").
		Having("COUNT(DISTINCT substance_id) > 1").
		Order("token").
		Pluck("token", &tokens).Error
	if err != nil {
		return 0, nil, err
	}
	samples := tokens
	if len(samples) > sampleLimit {
		samples = samples[:sampleLimit]
	}
	return int64(len(tokens)), samples, nil
}

func checkDuplicatePairs(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	var n int64
	err := db.Raw(`SELECT COUNT(*) FROM (
		SELECT a_substance_id, b_substance_id FROM interactions
		GROUP BY a_substance_id, b_substance_id HAVING COUNT(*) > 1
	) d`).Scan(&n).Error
	return n, nil, err
}

func checkSymmetricDuplicates(ctx context.Context, db *gorm.DB, sampleLimit int) (int64, []string, error) {
	type pair struct {
		A string
		B string
	}
	var pairs []pair
	err := db.Raw(`SELECT i1.a_substance_id AS a, i1.b_substance_id AS b
		FROM interactions i1
		JOIN interactions i2
		  ON i1.a_substance_id = i2.b_substance_id AND i1.b_substance_id = i2.a_substance_id
		WHERE i1.a_substance_id < i1.b_substance_id`).Scan(&pairs).Error
	if err != nil {
		return 0, nil, err
	}
	var samples []string
	for _, p := range pairs {
		if len(samples) >= sampleLimit {
			break
		}
		samples = append(samples, fmt.Sprintf("(%s,%s)", p.A, p.B))
	}
	return int64(len(pairs)), samples, nil
}
