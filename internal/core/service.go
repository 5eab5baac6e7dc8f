package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/notify"
)

// trackRetention is how long a finished run stays subscribable in memory.
var trackRetention = time.Minute

// Runner runs a recorded import to completion.
type Runner interface {
	RunImport(ctx context.Context, importID string) (*catalog.ImportRecord, error)
}

// Dispatcher hands an accepted import to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, importID string) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNotifier sets where run outcomes are delivered.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithDispatcher replaces the in-process dispatcher, e.g. with a queue.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// Service manages the lifecycle of catalog imports.
type Service struct {
	store      catalog.Store
	imports    catalog.ImportStore
	cfg        config.ImportConfig
	limiter    *ImportLimiter
	notifier   notify.Notifier
	dispatcher Dispatcher
	local      *LocalDispatcher
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	active map[string]*activeImport
}

type activeImport struct {
	mu        sync.Mutex
	progress  ImportProgress
	listeners []chan ImportProgress
	done      chan struct{}
	finished  bool
}

// NewService creates the upload and report directories and returns a
// service importing into store. Without WithDispatcher runs start on a
// goroutine of this process.
func NewService(store catalog.Store, imports catalog.ImportStore, cfg config.ImportConfig, opts ...Option) (*Service, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.ReportDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	s := &Service{
		store:    store,
		imports:  imports,
		cfg:      cfg,
		limiter:  NewImportLimiter(DefaultMaxConcurrentImports, cfg.MaxWaitTime),
		notifier: notify.LogNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
		active:   make(map[string]*activeImport),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.local = NewLocalDispatcher(s, s.logger)
		s.dispatcher = s.local
	}
	return s, nil
}

// Limiter exposes the run limiter for health reporting.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// StartImport validates and stores an uploaded file, records the import
// and dispatches it. The returned record is pending.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (*catalog.ImportRecord, error) {
	if req.Data == nil || strings.TrimSpace(req.FileName) == "" {
		return nil, ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(req.FileName))
	format, ok := formatForExt(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if s.cfg.MaxFileSize > 0 && req.Size > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, req.Size, s.cfg.MaxFileSize)
	}

	enc := req.Encoding
	if enc == "" {
		enc = s.cfg.Encoding
	}
	if format == importer.FormatCSV {
		if _, err := importer.LookupEncoding(enc); err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()
	path := filepath.Join(s.cfg.UploadDir, id+ext)
	if err := s.saveUpload(path, req.Data); err != nil {
		return nil, err
	}

	rec := &catalog.ImportRecord{
		ID:           id,
		UserID:       req.UserID,
		FileName:     filepath.Base(req.FileName),
		FilePath:     path,
		Encoding:     enc,
		VariantsOnly: req.VariantsOnly,
		Status:       catalog.ImportPending,
	}
	if err := s.imports.CreateImport(ctx, rec); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("record import: %w", err)
	}
	s.track(rec)

	attrs := append([]any{"import_id", id, "user_id", req.UserID, "file", rec.FileName}, requestAttrs(ctx)...)
	s.logger.InfoContext(ctx, "catalog import accepted", attrs...)

	accepted := *rec
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		err = fmt.Errorf("dispatch import: %w", err)
		s.finish(ctx, rec, nil, err)
		return nil, err
	}
	return &accepted, nil
}

// saveUpload copies data to path, enforcing the size limit on the bytes
// actually received.
func (s *Service) saveUpload(path string, data io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}

	src := data
	if s.cfg.MaxFileSize > 0 {
		src = io.LimitReader(data, s.cfg.MaxFileSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	switch {
	case err != nil:
		err = fmt.Errorf("store upload: %w", err)
	case s.cfg.MaxFileSize > 0 && n > s.cfg.MaxFileSize:
		err = fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	case n == 0:
		err = ErrEmptyFile
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// RunImport runs a recorded import under the limiter and records its
// outcome. Problems with the file or the run are recorded on the returned
// record; the error is reserved for failures to load or save the record.
// Runs that already finished are returned unchanged.
func (s *Service) RunImport(ctx context.Context, importID string) (*catalog.ImportRecord, error) {
	rec, err := s.GetImport(ctx, importID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("import_id", rec.ID)
	if rec.Status.Finished() {
		logger.Info("catalog import already finished", "status", rec.Status)
		return rec, nil
	}
	tracker := s.track(rec)

	if err := s.limiter.Acquire(ctx); err != nil {
		return s.finish(ctx, rec, nil, err)
	}
	defer s.limiter.Release()

	runCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := s.now()
	rec.Status = catalog.ImportRunning
	rec.StartedAt = &started
	if err := s.imports.UpdateImport(ctx, rec); err != nil {
		return nil, fmt.Errorf("mark import running: %w", err)
	}
	tracker.publish(ImportProgress{ImportID: rec.ID, Phase: PhaseImporting})
	logger.Info("catalog import started", "file", rec.FileName, "variants_only", rec.VariantsOnly)

	result, runErr := s.execute(runCtx, rec, tracker, logger)
	return s.finish(ctx, rec, result, runErr)
}

func (s *Service) execute(ctx context.Context, rec *catalog.ImportRecord, tracker *activeImport, logger *slog.Logger) (*importer.Result, error) {
	f, err := os.Open(rec.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	counter := newCountingReader(f, size)

	format, _ := formatForExt(strings.ToLower(filepath.Ext(rec.FilePath)))
	rows, err := importer.NewRowReader(counter, importer.SourceOptions{Format: format, Encoding: rec.Encoding})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	engine := importer.NewEngine(s.store,
		importer.WithLogger(logger),
		importer.WithImageRoot(s.cfg.ImageRoot),
		importer.WithVariantsOnly(rec.VariantsOnly),
		importer.WithProgress(func(p importer.Progress) {
			tracker.publish(ImportProgress{
				ImportID:  rec.ID,
				Phase:     PhaseImporting,
				Block:     p.Block,
				Line:      p.Line,
				Product:   p.Label,
				Committed: p.Committed,
				Failed:    p.Failed,
				Percent:   counter.Percent(),
			})
		}),
	)
	return engine.Run(ctx, rows)
}

// finish records the outcome of a run, writes its failure report, releases
// subscribers and sends the notification. result may be nil when the run
// never started.
func (s *Service) finish(ctx context.Context, rec *catalog.ImportRecord, result *importer.Result, runErr error) (*catalog.ImportRecord, error) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With("import_id", rec.ID)

	var (
		report     []byte
		reportName string
	)
	if result != nil {
		rec.Blocks = result.Blocks
		rec.Committed = result.Committed
		rec.Failed = len(result.Failed)
		rec.Warnings = result.WarningCount()

		if len(result.Failed) > 0 {
			var err error
			report, err = importer.BuildReport(result.Header, result.Failed, ReportEncoding(rec))
			if err != nil {
				logger.Error("build failure report", "error", err)
			} else if path, err := s.saveReport(rec.ID, report); err != nil {
				logger.Error("save failure report", "error", err)
			} else {
				rec.ReportPath = path
				reportName = ReportName(rec)
			}
		}
	}

	rec.Status = catalog.ImportSucceeded
	if runErr != nil || rec.Failed > 0 {
		rec.Status = catalog.ImportFailed
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	finished := s.now()
	rec.FinishedAt = &finished

	var saveErr error
	if err := s.imports.UpdateImport(ctx, rec); err != nil {
		logger.Error("record import outcome", "error", err)
		saveErr = fmt.Errorf("record import outcome: %w", err)
	}
	if rec.FilePath != "" {
		if err := os.Remove(rec.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove upload", "path", rec.FilePath, "error", err)
		}
	}

	s.complete(rec)
	s.notifier.Notify(ctx, notify.FromRecord(rec, report, reportName))

	logger.Info("catalog import finished",
		"status", rec.Status,
		"blocks", rec.Blocks,
		"committed", rec.Committed,
		"failed", rec.Failed,
		"warnings", rec.Warnings,
	)
	return rec, saveErr
}

func (s *Service) saveReport(id string, report []byte) (string, error) {
	path := filepath.Join(s.cfg.ReportDir, id+".csv")
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// GetImport returns the import record for id.
func (s *Service) GetImport(ctx context.Context, importID string) (*catalog.ImportRecord, error) {
	rec, err := s.imports.GetImport(ctx, importID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	if err != nil {
		return nil, fmt.Errorf("load import %s: %w", importID, err)
	}
	return rec, nil
}

// OpenReport opens the failure report of an import. The caller closes it.
func (s *Service) OpenReport(ctx context.Context, importID string) (io.ReadCloser, *catalog.ImportRecord, error) {
	rec, err := s.GetImport(ctx, importID)
	if err != nil {
		return nil, nil, err
	}
	if !rec.HasReport() {
		return nil, nil, ErrReportNotFound
	}
	f, err := os.Open(rec.ReportPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrReportNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open report: %w", err)
	}
	return f, rec, nil
}

// Export writes the catalog in the import format and returns the number
// of products written.
func (s *Service) Export(ctx context.Context, w io.Writer, encodingName string) (int, error) {
	if encodingName == "" {
		encodingName = s.cfg.Encoding
	}
	return importer.ExportCatalog(ctx, s.store, w, encodingName)
}

// Drain waits for dispatched and running imports to finish.
func (s *Service) Drain(ctx context.Context) error {
	if s.local != nil {
		if err := s.local.Wait(ctx); err != nil {
			return err
		}
	}
	return s.limiter.WaitForDrain(ctx)
}

// ReportName is the download name of an import's failure report.
func ReportName(rec *catalog.ImportRecord) string {
	base := strings.TrimSuffix(rec.FileName, filepath.Ext(rec.FileName))
	if base == "" {
		base = rec.ID
	}
	return base + "-errors.csv"
}

func formatForExt(ext string) (importer.Format, bool) {
	switch ext {
	case ".csv":
		return importer.FormatCSV, true
	case ".xlsx":
		return importer.FormatXLSX, true
	default:
		return "", false
	}
}

// ReportEncoding keeps CSV reports in the source encoding; spreadsheets
// are reported as UTF-8 CSV.
func ReportEncoding(rec *catalog.ImportRecord) string {
	if strings.EqualFold(filepath.Ext(rec.FilePath), ".xlsx") {
		return "utf-8"
	}
	return rec.Encoding
}
