package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/catalog/memory"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/notify"
)

// =============================================================================
// Fixtures
// =============================================================================

const mugCSV = "slug,name,price,stocks\nmug,Mug,7.50,3\n"

const teeFailCSV = `slug,name,price,option_types,sku,option_values
tee,T-Shirt,20,Size,,
,,,,TEE-S,Size->Small
,,,,TEE-M,
mug,Mug,5,,,
`

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

// heldDispatcher records dispatched IDs; tests run them with RunImport.
type heldDispatcher struct {
	ids []string
	err error
}

func (d *heldDispatcher) Dispatch(_ context.Context, id string) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	notifier *recordingNotifier
	cfg      config.ImportConfig
}

func testImportConfig(t *testing.T) config.ImportConfig {
	dir := t.TempDir()
	return config.ImportConfig{
		MaxFileSize: 1 << 20,
		MaxWaitTime: time.Second,
		Timeout:     time.Minute,
		Encoding:    "utf-8",
		UploadDir:   filepath.Join(dir, "uploads"),
		ReportDir:   filepath.Join(dir, "reports"),
		ImageRoot:   dir,
	}
}

func newFixture(t *testing.T, cfg config.ImportConfig, opts ...Option) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	err := store.RunInTx(ctx, func(tx catalog.Tx) error {
		if err := tx.CreateShippingCategory(ctx, &catalog.ShippingCategory{Name: "Default"}); err != nil {
			return err
		}
		return tx.CreateStockLocation(ctx, &catalog.StockLocation{Name: "Main", Default: true})
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	n := &recordingNotifier{}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithNotifier(n)}, opts...)
	svc, err := NewService(store, store, cfg, opts...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &fixture{svc: svc, store: store, notifier: n, cfg: cfg}
}

func (f *fixture) start(t *testing.T, name, text string) *catalog.ImportRecord {
	t.Helper()
	rec, err := f.svc.StartImport(context.Background(), ImportRequest{
		UserID:   "u-1",
		FileName: name,
		Data:     strings.NewReader(text),
		Size:     int64(len(text)),
	})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	return rec
}

func (f *fixture) run(t *testing.T, id string) *catalog.ImportRecord {
	t.Helper()
	rec, err := f.svc.RunImport(context.Background(), id)
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	return rec
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	return len(entries)
}

// =============================================================================
// StartImport
// =============================================================================

func TestStartImport_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		req     ImportRequest
		wantErr error
		wantMsg string
	}{
		{
			name:    "no file",
			req:     ImportRequest{},
			wantErr: ErrNoFile,
		},
		{
			name:    "unsupported extension",
			req:     ImportRequest{FileName: "catalog.pdf", Data: strings.NewReader("x"), Size: 1},
			wantErr: ErrUnsupportedFileType,
		},
		{
			name:    "declared size over limit",
			req:     ImportRequest{FileName: "catalog.csv", Data: strings.NewReader("x"), Size: 2 << 20},
			wantErr: ErrFileTooLarge,
		},
		{
			name:    "body over limit",
			req:     ImportRequest{FileName: "catalog.csv", Data: bytes.NewReader(make([]byte, 1<<20+10)), Size: -1},
			wantErr: ErrFileTooLarge,
		},
		{
			name:    "empty body",
			req:     ImportRequest{FileName: "catalog.csv", Data: strings.NewReader(""), Size: -1},
			wantErr: ErrEmptyFile,
		},
		{
			name:    "unknown encoding",
			req:     ImportRequest{FileName: "catalog.csv", Data: strings.NewReader(mugCSV), Encoding: "ebcdic"},
			wantMsg: "unsupported encoding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &heldDispatcher{}
			f := newFixture(t, testImportConfig(t), WithDispatcher(d))

			_, err := f.svc.StartImport(context.Background(), tt.req)
			if err == nil {
				t.Fatal("StartImport() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want %q", err, tt.wantMsg)
			}
			if len(d.ids) != 0 {
				t.Errorf("dispatched %v for a rejected upload", d.ids)
			}
			if n := dirEntries(t, f.cfg.UploadDir); n != 0 {
				t.Errorf("upload dir holds %d files after rejection", n)
			}
		})
	}
}

func TestStartImport_RecordsAndDispatches(t *testing.T) {
	d := &heldDispatcher{}
	f := newFixture(t, testImportConfig(t), WithDispatcher(d))

	rec := f.start(t, "catalog.csv", mugCSV)

	if rec.Status != catalog.ImportPending || rec.UserID != "u-1" || rec.Encoding != "utf-8" {
		t.Errorf("record = %+v", rec)
	}
	if len(d.ids) != 1 || d.ids[0] != rec.ID {
		t.Errorf("dispatched = %v, want [%s]", d.ids, rec.ID)
	}
	data, err := os.ReadFile(rec.FilePath)
	if err != nil || string(data) != mugCSV {
		t.Errorf("stored upload = %q, %v", data, err)
	}
	if _, err := f.svc.GetImport(context.Background(), rec.ID); err != nil {
		t.Errorf("GetImport() error = %v", err)
	}
}

func TestStartImport_DispatchFailure(t *testing.T) {
	d := &heldDispatcher{err: errors.New("redis: connection refused")}
	f := newFixture(t, testImportConfig(t), WithDispatcher(d))

	_, err := f.svc.StartImport(context.Background(), ImportRequest{
		FileName: "catalog.csv",
		Data:     strings.NewReader(mugCSV),
		Size:     -1,
	})
	if err == nil || !strings.Contains(err.Error(), "dispatch import") {
		t.Fatalf("err = %v, want dispatch error", err)
	}

	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].Status != catalog.ImportFailed {
		t.Errorf("notifications = %+v, want one failure", sent)
	}
}

// =============================================================================
// RunImport
// =============================================================================

func TestRunImport_Success(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	rec := f.run(t, f.start(t, "catalog.csv", mugCSV).ID)

	if rec.Status != catalog.ImportSucceeded {
		t.Fatalf("Status = %s, Error = %q", rec.Status, rec.Error)
	}
	if rec.Blocks != 1 || rec.Committed != 1 || rec.Failed != 0 || rec.HasReport() {
		t.Errorf("record = %+v", rec)
	}
	if rec.StartedAt == nil || rec.FinishedAt == nil {
		t.Error("run timestamps not set")
	}
	if _, err := os.Stat(rec.FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("upload not removed after run, stat err = %v", err)
	}

	sent := f.notifier.all()
	if len(sent) != 1 || !sent[0].Succeeded() || sent[0].Report != nil {
		t.Errorf("notifications = %+v", sent)
	}

	stored, err := f.svc.GetImport(context.Background(), rec.ID)
	if err != nil || stored.Status != catalog.ImportSucceeded {
		t.Errorf("stored = %+v, %v", stored, err)
	}
}

func TestRunImport_FailedBlocksWriteReport(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	rec := f.run(t, f.start(t, "catalog.csv", teeFailCSV).ID)

	if rec.Status != catalog.ImportFailed || rec.Committed != 1 || rec.Failed != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Error != "" {
		t.Errorf("Error = %q, block failures are not run errors", rec.Error)
	}

	rc, got, err := f.svc.OpenReport(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("OpenReport() error = %v", err)
	}
	defer rc.Close()
	report, _ := io.ReadAll(rc)

	wantReport := `slug,name,price,option_types,sku,option_values,issues
tee,T-Shirt,20,Size,,,ERROR: Value for size not provided
,,,,TEE-S,Size->Small,
,,,,TEE-M,,
`
	if string(report) != wantReport {
		t.Errorf("report =\n%s\nwant\n%s", report, wantReport)
	}
	if ReportName(got) != "catalog-errors.csv" {
		t.Errorf("ReportName() = %q", ReportName(got))
	}

	sent := f.notifier.all()
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
	if !bytes.Equal(sent[0].Report, report) || sent[0].ReportName != "catalog-errors.csv" {
		t.Errorf("notification report = %q (%s)", sent[0].Report, sent[0].ReportName)
	}
}

func TestRunImport_MalformedFile(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	rec := f.run(t, f.start(t, "catalog.csv", "slug,name\nmug,Mug\ncup,Cup\nbad\n").ID)

	if rec.Status != catalog.ImportFailed {
		t.Fatalf("Status = %s", rec.Status)
	}
	if !strings.Contains(rec.Error, "malformed input") {
		t.Errorf("Error = %q", rec.Error)
	}
	if rec.Committed != 1 {
		t.Errorf("Committed = %d, blocks before the bad row are kept", rec.Committed)
	}
	if got := MapError(errors.New(rec.Error)).Code; got != "FILE002" {
		t.Errorf("mapped code = %s", got)
	}
}

func TestRunImport_AlreadyFinished(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	id := f.start(t, "catalog.csv", mugCSV).ID
	first := f.run(t, id)
	second := f.run(t, id)

	if second.Status != first.Status || !second.FinishedAt.Equal(*first.FinishedAt) {
		t.Errorf("second run changed the record: %+v", second)
	}
	if n := len(f.notifier.all()); n != 1 {
		t.Errorf("sent %d notifications, want 1", n)
	}
}

func TestRunImport_LimiterBusy(t *testing.T) {
	cfg := testImportConfig(t)
	cfg.MaxWaitTime = 20 * time.Millisecond
	f := newFixture(t, cfg, WithDispatcher(&heldDispatcher{}))
	id := f.start(t, "catalog.csv", mugCSV).ID

	if !f.svc.Limiter().TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	rec := f.run(t, id)
	f.svc.Limiter().Release()

	if rec.Status != catalog.ImportFailed || rec.Blocks != 0 {
		t.Fatalf("record = %+v", rec)
	}
	if got := MapError(errors.New(rec.Error)).Code; got != "IMP001" {
		t.Errorf("mapped code = %s, Error = %q", got, rec.Error)
	}
}

func TestRunImport_UnknownImport(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	_, err := f.svc.RunImport(context.Background(), "missing")
	if !errors.Is(err, ErrImportNotFound) {
		t.Errorf("err = %v, want ErrImportNotFound", err)
	}
}

func TestOpenReport_NoReport(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	rec := f.run(t, f.start(t, "catalog.csv", mugCSV).ID)

	if _, _, err := f.svc.OpenReport(context.Background(), rec.ID); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("err = %v, want ErrReportNotFound", err)
	}
}

// =============================================================================
// Dispatch, progress, export
// =============================================================================

func TestLocalDispatcher_RunsImport(t *testing.T) {
	f := newFixture(t, testImportConfig(t))
	rec := f.start(t, "catalog.csv", mugCSV)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	got, err := f.svc.GetImport(ctx, rec.ID)
	if err != nil || got.Status != catalog.ImportSucceeded {
		t.Errorf("record = %+v, %v", got, err)
	}
}

func TestSubscribeProgress(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	id := f.start(t, "catalog.csv", teeFailCSV).ID

	ch, err := f.svc.SubscribeProgress(context.Background(), id)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	f.run(t, id)

	var updates []ImportProgress
	for p := range ch {
		updates = append(updates, p)
	}
	if len(updates) < 3 {
		t.Fatalf("got %d updates, want queued + per block + final", len(updates))
	}
	if updates[0].Phase != PhaseQueued {
		t.Errorf("first phase = %s, want queued", updates[0].Phase)
	}
	last := updates[len(updates)-1]
	if !last.Done() || last.Phase != PhaseFailed || last.Committed != 1 || last.Failed != 1 || last.Percent != 100 {
		t.Errorf("final update = %+v", last)
	}

	// a late subscriber gets the final state and a closed channel
	late, err := f.svc.SubscribeProgress(context.Background(), id)
	if err != nil {
		t.Fatalf("late SubscribeProgress() error = %v", err)
	}
	p, ok := <-late
	if !ok || p.Phase != PhaseFailed {
		t.Errorf("late update = %+v, %v", p, ok)
	}
	if _, open := <-late; open {
		t.Error("late channel not closed")
	}
}

func TestSubscribeProgress_Unsubscribe(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	id := f.start(t, "catalog.csv", mugCSV).ID

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.svc.SubscribeProgress(ctx, id)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	<-ch // queued
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Error("received an update after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after ctx cancel")
	}
}

func TestSubscribeProgress_UntrackedImport(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	finished := time.Now()
	rec := &catalog.ImportRecord{
		ID:         "2b7a3c4e-0000-4000-8000-000000000001",
		FileName:   "old.csv",
		Status:     catalog.ImportSucceeded,
		Blocks:     4,
		Committed:  4,
		FinishedAt: &finished,
	}
	if err := f.store.CreateImport(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	ch, err := f.svc.SubscribeProgress(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	var updates []ImportProgress
	for p := range ch {
		updates = append(updates, p)
	}
	if len(updates) != 1 || updates[0].Phase != PhaseComplete || updates[0].Committed != 4 {
		t.Errorf("updates = %+v", updates)
	}

	if _, err := f.svc.SubscribeProgress(context.Background(), "nope"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("err = %v, want ErrImportNotFound", err)
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	f.run(t, f.start(t, "catalog.csv", mugCSV).ID)

	var buf bytes.Buffer
	n, err := f.svc.Export(context.Background(), &buf, "")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != 1 {
		t.Errorf("exported %d products, want 1", n)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "slug,") || !strings.HasPrefix(lines[1], "mug,") {
		t.Errorf("export =\n%s", buf.String())
	}
}

// =============================================================================
// Report janitor
// =============================================================================

func TestPurgeReports(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	ctx := context.Background()

	oldRec := f.run(t, f.start(t, "old.csv", teeFailCSV).ID)
	newRec := f.run(t, f.start(t, "new.csv", teeFailCSV).ID)

	// age the first run past the retention period
	aged := time.Now().Add(-48 * time.Hour)
	oldRec.FinishedAt = &aged
	if err := f.store.UpdateImport(ctx, oldRec); err != nil {
		t.Fatal(err)
	}

	if n := f.svc.purgeReports(ctx, 24*time.Hour); n != 1 {
		t.Fatalf("purgeReports() = %d, want 1", n)
	}
	if _, err := os.Stat(oldRec.ReportPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expired report still on disk: %v", err)
	}
	if _, err := os.Stat(newRec.ReportPath); err != nil {
		t.Errorf("recent report removed: %v", err)
	}
	if _, _, err := f.svc.OpenReport(ctx, oldRec.ID); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("OpenReport(expired) err = %v", err)
	}
}

func TestStartReportJanitor_StopsOnCancel(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.svc.StartReportJanitor(ctx, JanitorConfig{CheckInterval: 10 * time.Millisecond})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestGetProgress(t *testing.T) {
	f := newFixture(t, testImportConfig(t), WithDispatcher(&heldDispatcher{}))
	id := f.start(t, "catalog.csv", mugCSV).ID

	p, err := f.svc.GetProgress(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if p.Phase != PhaseQueued {
		t.Errorf("phase before run = %s, want queued", p.Phase)
	}

	f.run(t, id)
	p, err = f.svc.GetProgress(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if p.Phase != PhaseComplete || p.Committed != 1 || p.Percent != 100 {
		t.Errorf("progress after run = %+v", p)
	}

	if _, err := f.svc.GetProgress(context.Background(), "missing"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("GetProgress(missing) error = %v, want ErrImportNotFound", err)
	}
}
