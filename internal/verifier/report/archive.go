package report

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/autopeer-io/obdverify/internal/storage"
	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/log"
)

const (
	archiveTimeout = 30 * time.Second
	outcomesObject = "outcomes.json"
)

// Archive uploads the text report and the outcomes of a run to object
// storage once the run completes.
type Archive struct {
	listener.Base

	provider   storage.Provider
	runID      string
	reportPath string
	expiry     time.Duration
	log        log.Logger

	mu      sync.Mutex
	results []model.Result
	urls    []string
}

// NewArchive returns an archive for run runID. reportPath may be empty when
// no text report is written. A positive expiry makes the archive log a
// presigned download link for each object.
func NewArchive(provider storage.Provider, runID, reportPath string, expiry time.Duration) *Archive {
	return &Archive{
		provider:   provider,
		runID:      runID,
		reportPath: reportPath,
		expiry:     expiry,
		log:        log.WithName("archive").WithValues("run", runID),
	}
}

func (a *Archive) AddOutcome(part, step int, outcome model.Outcome, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, model.Result{Part: part, Step: step, Outcome: outcome, Message: message, Time: time.Now()})
}

func (a *Archive) OnComplete(bool) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := a.Upload(ctx); err != nil {
		a.log.Error(err, "Failed to archive run")
	}
}

// Upload stores the report and the outcomes under "<runID>/".
func (a *Archive) Upload(ctx context.Context) error {
	if err := a.provider.CheckBucket(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	payload, err := json.MarshalIndent(a.results, "", "  ")
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if err := a.put(ctx, outcomesObject, payload, "application/json"); err != nil {
		return err
	}

	if a.reportPath == "" {
		return nil
	}
	report, err := os.ReadFile(a.reportPath)
	if err != nil {
		return err
	}
	return a.put(ctx, filepath.Base(a.reportPath), report, "text/plain; charset=utf-8")
}

// URLs returns the presigned links produced by the last upload.
func (a *Archive) URLs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.urls...)
}

func (a *Archive) put(ctx context.Context, name string, data []byte, contentType string) error {
	key, err := a.provider.Upload(ctx, path.Join(a.runID, name), bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return err
	}
	a.log.Info("Archived object", "key", key, "size", humanize.Bytes(uint64(len(data))))

	if a.expiry <= 0 {
		return nil
	}
	url, err := a.provider.PresignedURL(ctx, key, a.expiry)
	if err != nil {
		a.log.Warn("Failed to presign object", "key", key, "error", err.Error())
		return nil
	}
	a.mu.Lock()
	a.urls = append(a.urls, url)
	a.mu.Unlock()
	a.log.Info("Report available", "url", url, "expires", humanize.Time(time.Now().Add(a.expiry)))
	return nil
}

var _ listener.Listener = (*Archive)(nil)
