// Package pipeline runs the daily stages in order: scrape the extraction,
// reconcile it into the persisted workbook, render the pivot and mail it.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regreport/internal/components/assert"
	"regreport/internal/components/chrono"
	"regreport/internal/components/db"
	"regreport/internal/components/telemetry"
	"regreport/internal/config"
	"regreport/internal/lookup"
	"regreport/internal/reconcile"
	"regreport/internal/render"
	"regreport/internal/workbook"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_pipeline_run       = "pipeline.run"
	report_pipeline_scrape    = "pipeline.scrape"
	report_pipeline_reconcile = "pipeline.reconcile"
	report_pipeline_render    = "pipeline.render"
	report_pipeline_send      = "pipeline.send"
	report_pipeline_journal   = "pipeline.journal"
)

var tracer = otel.Tracer("regreport.internal.pipeline")

type Stage string

const (
	StageScrape    Stage = "scrape"
	StageReconcile Stage = "reconcile"
	StageRender    Stage = "render"
	StageSend      Stage = "send"
)

var stageOrder = []Stage{StageScrape, StageReconcile, StageRender, StageSend}

func (s Stage) index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if stage.index() < 0 {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return stage, nil
}

// Scraper produces the extraction file for the target day.
type Scraper interface {
	Scrape(ctx context.Context, target time.Time) (path string, err error)
}

type Sender interface {
	SendReport(ctx context.Context, imagePath string) error
}

type Options struct {
	Config  config.Config
	Scraper Scraper
	// Sender may be nil when no run goes through StageSend.
	Sender Sender
	// Journal may be nil, runs are then not recorded.
	Journal *db.Journal
	Clock   chrono.API
}

type Pipeline struct {
	cfg     config.Config
	scraper Scraper
	sender  Sender
	journal *db.Journal
	clock   chrono.API
	tel     telemetry.API

	extracted   metric.Int64Counter
	datasetRows metric.Int64Gauge
}

func New(opts Options, tel telemetry.API) Pipeline {
	assert.NotNil(tel)
	assert.NotNil(opts.Clock)

	meter := otel.Meter("regreport.internal.pipeline")
	extracted, _ := meter.Int64Counter("rows_extracted")
	datasetRows, _ := meter.Int64Gauge("dataset_rows")

	return Pipeline{
		cfg:         opts.Config,
		scraper:     opts.Scraper,
		sender:      opts.Sender,
		journal:     opts.Journal,
		clock:       opts.Clock,
		tel:         telemetry.NewScopedAPI("pipeline", tel),
		extracted:   extracted,
		datasetRows: datasetRows,
	}
}

// Plan describes one run.
type Plan struct {
	Target time.Time
	// Extraction, when set, is used instead of scraping.
	Extraction string
	// Through is the last stage to run.
	Through Stage
}

type Result struct {
	RunID      string
	Target     time.Time
	Stage      Stage
	Extraction string
	Report     reconcile.Report
	Anomalies  []reconcile.BlockAnomaly
	Pivot      reconcile.Pivot
	Image      string
}

func (p Pipeline) validate(plan Plan) error {
	if plan.Through.index() < 0 {
		return fmt.Errorf("unknown stage %q", plan.Through)
	}
	var errs []error
	if plan.Extraction == "" {
		if p.scraper == nil {
			errs = append(errs, fmt.Errorf("no scraper configured"))
		}
		errs = append(errs, p.cfg.Validate())
	}
	if plan.Through == StageSend {
		if p.sender == nil {
			errs = append(errs, fmt.Errorf("no sender configured"))
		}
		errs = append(errs, p.cfg.ValidateMail())
	}
	return errors.Join(errs...)
}

// Run executes plan. It stops at the first failing stage, nothing after a
// failed reconcile is rendered or sent.
func (p Pipeline) Run(ctx context.Context, plan Plan) (Result, error) {
	plan.Target = chrono.Day(plan.Target)
	if plan.Through == "" {
		plan.Through = StageSend
	}

	runID, err := random.String(12)
	if err != nil {
		return Result{}, err
	}
	res := Result{RunID: runID, Target: plan.Target}

	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("target", plan.Target.Format(time.DateOnly)),
		attribute.String("through", string(plan.Through)),
	)

	err = p.validate(plan)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_run, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid configuration")
		return res, err
	}

	p.journalStart(ctx, res)
	err = p.run(ctx, plan, &res)
	p.journalFinish(ctx, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("stage %s failed", res.Stage))
		return res, err
	}
	return res, nil
}

func (p Pipeline) run(ctx context.Context, plan Plan, res *Result) error {
	last := plan.Through.index()

	res.Extraction = plan.Extraction
	if res.Extraction == "" {
		p.enter(ctx, res, StageScrape)
		path, err := p.Scrape(ctx, plan.Target)
		if err != nil {
			return err
		}
		res.Extraction = path
	}
	if last < StageReconcile.index() {
		return nil
	}

	p.enter(ctx, res, StageReconcile)
	out, err := p.Reconcile(ctx, plan.Target, res.Extraction)
	if err != nil {
		return err
	}
	res.Report, res.Anomalies, res.Pivot = out.Report, out.Anomalies, out.Pivot
	if last < StageRender.index() {
		return nil
	}

	p.enter(ctx, res, StageRender)
	image, err := p.Render(ctx)
	if err != nil {
		return err
	}
	res.Image = image
	if last < StageSend.index() {
		return nil
	}

	p.enter(ctx, res, StageSend)
	return p.Send(ctx, image)
}

func (p Pipeline) enter(ctx context.Context, res *Result, stage Stage) {
	res.Stage = stage
	p.tel.ReportDebug("entering stage", res.RunID, string(stage))
	if p.journal == nil {
		return
	}
	err := p.journal.SetRunStage(ctx, db.SetRunStageParams{ID: res.RunID, Stage: string(stage)})
	if err != nil {
		p.tel.ReportWarning(report_pipeline_journal, fmt.Errorf("set stage: %w", err))
	}
}

func (p Pipeline) Scrape(ctx context.Context, target time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()

	path, err := p.scraper.Scrape(ctx, target)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_scrape, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape failed")
		return "", err
	}
	return path, nil
}

type ReconcileResult struct {
	Report    reconcile.Report
	Anomalies []reconcile.BlockAnomaly
	Pivot     reconcile.Pivot
}

// Reconcile merges the extraction at path into the workbook as the rows of
// target. The workbook is replaced in one step at the very end, so an error
// at any point leaves it as it was.
func (p Pipeline) Reconcile(ctx context.Context, target time.Time, path string) (ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()

	fail := func(err error) (ReconcileResult, error) {
		p.tel.ReportBroken(report_pipeline_reconcile, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return ReconcileResult{}, err
	}

	table, err := lookup.LoadWorkbook(p.cfg.Files.LookupFile, p.cfg.Files.LookupSheet, p.tel)
	if err != nil {
		return fail(err)
	}
	records, err := reconcile.LoadExtraction(path)
	if err != nil {
		return fail(err)
	}
	p.extracted.Add(ctx, int64(len(records)))

	tx, err := workbook.NewStore(p.cfg.Files.DatasetFile, p.tel).Begin()
	if err != nil {
		return fail(err)
	}
	defer tx.Discard()

	dataset, report := reconcile.Reconcile(records, target, table, tx.Snapshot())
	report.ReportTo(p.tel, func(raw string) (string, float64) {
		entry, similarity := table.Suggest(raw)
		return entry.Raw, similarity
	})

	err = workbook.WriteRows(p.cfg.OutputPath(p.cfg.Files.ProcessedFile), dayRows(dataset, target))
	if err != nil {
		return fail(fmt.Errorf("write processed file: %w", err))
	}

	anomalies := reconcile.CheckConsistency(dataset)
	reconcile.ReportAnomalies(p.tel, anomalies)

	pivot := reconcile.BuildPivot(dataset)
	pivot.ReportTo(p.tel)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	err = tx.Commit(dataset, pivot)
	if err != nil {
		return fail(err)
	}
	p.datasetRows.Record(ctx, int64(dataset.Len()))
	span.SetAttributes(
		attribute.Int("extracted", report.Extracted),
		attribute.Int("replaced", report.Replaced),
		attribute.Int("total", report.Total),
	)

	return ReconcileResult{Report: report, Anomalies: anomalies, Pivot: pivot}, nil
}

func dayRows(dataset reconcile.Dataset, target time.Time) []reconcile.Row {
	text := reconcile.FormatDate(target)
	var rows []reconcile.Row
	for _, row := range dataset.Rows {
		if row.Date == text {
			rows = append(rows, row)
		}
	}
	return rows
}

// Render draws the pivot sheet of the persisted workbook to the report image.
func (p Pipeline) Render(ctx context.Context) (string, error) {
	_, span := tracer.Start(ctx, "Render")
	defer span.End()

	out := p.cfg.OutputPath(p.cfg.Files.ImageFile)
	err := render.RenderFile(p.cfg.Files.DatasetFile, workbook.PivotSheet, out)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_render, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return "", err
	}
	return out, nil
}

func (p Pipeline) Send(ctx context.Context, image string) error {
	err := p.sender.SendReport(ctx, image)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_send, err)
		return err
	}
	return nil
}

func (p Pipeline) journalStart(ctx context.Context, res Result) {
	if p.journal == nil {
		return
	}
	err := p.journal.CreateRun(ctx, db.CreateRunParams{
		ID:         res.RunID,
		TargetDate: reconcile.FormatDate(res.Target),
		StartedAt:  p.clock.Now().Unix(),
		Status:     db.RUN_RUNNING,
	})
	if err != nil {
		p.tel.ReportWarning(report_pipeline_journal, fmt.Errorf("create run: %w", err))
	}
}

// Succeeded returns the latest successful run for target, if the journal
// has one.
func (p Pipeline) Succeeded(ctx context.Context, target time.Time) (db.Run, bool) {
	if p.journal == nil {
		return db.Run{}, false
	}
	run, err := p.journal.LastSucceededRun(ctx, reconcile.FormatDate(chrono.Day(target)))
	if errors.Is(err, sql.ErrNoRows) {
		return db.Run{}, false
	}
	if err != nil {
		p.tel.ReportWarning(report_pipeline_journal, fmt.Errorf("last succeeded run: %w", err))
		return db.Run{}, false
	}
	return run, true
}

// journalFinish records the outcome of a run. The counts of a run that got
// through reconcile are written in the same transaction as its status.
func (p Pipeline) journalFinish(ctx context.Context, res Result, runErr error) {
	if p.journal == nil {
		return
	}
	status, message := db.RUN_SUCCEEDED, ""
	if runErr != nil {
		status, message = db.RUN_FAILED, runErr.Error()
	}
	// the run context may be cancelled already, the journal entry should still land
	ctx = context.WithoutCancel(ctx)
	err := p.journal.InTx(ctx, func(tx *db.Queries) error {
		if res.Stage.index() >= StageReconcile.index() {
			err := tx.SetRunCounts(ctx, db.SetRunCountsParams{
				ID:            res.RunID,
				RowsExtracted: int64(res.Report.Extracted),
				RowsReplaced:  int64(res.Report.Replaced),
				RowsUnmapped:  int64(res.Report.UnmappedRows),
				RowsTotal:     int64(res.Report.Total),
			})
			if err != nil {
				return fmt.Errorf("set counts: %w", err)
			}
		}
		err := tx.FinishRun(ctx, db.FinishRunParams{
			ID:         res.RunID,
			FinishedAt: p.clock.Now().Unix(),
			Status:     status,
			Error:      message,
		})
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		return nil
	})
	if err != nil {
		p.tel.ReportWarning(report_pipeline_journal, err)
	}
}
