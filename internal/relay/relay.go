// Package relay moves one media payload from the upstream host to the
// downstream platform: download into a staging file, upload, delete the
// staging file.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "reelrelay/pkg/logx"
)

// Steps reported by StepError.
const (
	StepRetrieve = "retrieve"
	StepTransmit = "transmit"
)

// Request describes one item to republish.
type Request struct {
	TargetID string
	Token    string
	MediaURL string
	Caption  string
	ItemID   string
}

// Publisher is what the pipeline drives for every unseen item.
type Publisher interface {
	Publish(ctx context.Context, req Request) (string, error)
}

// Upload is a staged payload ready for transmission.
type Upload struct {
	TargetID string
	Token    string
	Path     string
	Size     int64
	Caption  string
}

// Uploader transmits a staged payload and returns the downstream id.
type Uploader interface {
	Upload(ctx context.Context, u Upload) (string, error)
}

// StepError identifies which step of a relay failed.
type StepError struct {
	Step   string
	ItemID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("relay %s failed for item %s: %v", e.Step, e.ItemID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the step recorded in err, or "" if err is not a StepError.
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

var errEmptyPayload = errors.New("media host returned an empty payload")

type Config struct {
	StagingDir      string
	DownloadTimeout time.Duration // default 120s
	PublishTimeout  time.Duration // default 300s
	// RatePerMinute caps uploads; 0 means unlimited.
	RatePerMinute int
	// Client downloads media. Its own Timeout should be zero; DownloadTimeout
	// bounds the whole transfer.
	Client *http.Client
}

// Relay implements Publisher on top of a Stager and an Uploader.
type Relay struct {
	stager   *Stager
	uploader Uploader
	client   *http.Client
	limiter  *rate.Limiter
	log      logx.Logger

	downloadTimeout time.Duration
	publishTimeout  time.Duration
}

func New(cfg Config, up Uploader, log logx.Logger) (*Relay, error) {
	if up == nil {
		return nil, errors.New("relay: uploader is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := NewStager(cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	r := &Relay{
		stager:          st,
		uploader:        up,
		client:          cfg.Client,
		log:             log.With(logx.String("comp", "relay")),
		downloadTimeout: cfg.DownloadTimeout,
		publishTimeout:  cfg.PublishTimeout,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.downloadTimeout <= 0 {
		r.downloadTimeout = 120 * time.Second
	}
	if r.publishTimeout <= 0 {
		r.publishTimeout = 300 * time.Second
	}
	if cfg.RatePerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return r, nil
}

// Stager exposes the staging area (used for startup sweeps).
func (r *Relay) Stager() *Stager { return r.stager }

// Publish stages req.MediaURL, uploads it and returns the downstream id.
// The staging file is removed on every return path.
func (r *Relay) Publish(ctx context.Context, req Request) (id string, err error) {
	log := r.log.With(logx.String("item_id", req.ItemID))

	f, err := r.stager.Create(req.ItemID)
	if err != nil {
		return "", &StepError{Step: StepRetrieve, ItemID: req.ItemID, Err: err}
	}
	path := f.Name()
	defer func() {
		if rmErr := r.stager.Remove(path); rmErr != nil {
			log.Warn("could not remove staging file", logx.String("path", path), logx.Err(rmErr))
		}
	}()

	log.Info("downloading media", logx.String("path", path))
	started := time.Now()
	size, err := r.download(ctx, req.MediaURL, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return "", &StepError{Step: StepRetrieve, ItemID: req.ItemID, Err: err}
	}
	log.Debug("download complete", logx.Int64("bytes", size), logx.Duration("took", time.Since(started)))

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", &StepError{Step: StepTransmit, ItemID: req.ItemID, Err: err}
		}
	}

	log.Info("uploading media", logx.String("target", req.TargetID))
	pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	id, err = r.uploader.Upload(pctx, Upload{
		TargetID: req.TargetID,
		Token:    req.Token,
		Path:     path,
		Size:     size,
		Caption:  req.Caption,
	})
	if err != nil {
		return "", &StepError{Step: StepTransmit, ItemID: req.ItemID, Err: err}
	}
	if strings.TrimSpace(id) == "" {
		return "", &StepError{Step: StepTransmit, ItemID: req.ItemID, Err: errors.New("downstream returned no id")}
	}
	log.Info("media published", logx.String("downstream_id", id))
	return id, nil
}

// download streams mediaURL into w.
func (r *Relay) download(ctx context.Context, mediaURL string, w io.Writer) (int64, error) {
	dctx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return 0, fmt.Errorf("media host returned HTTP %d", resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errEmptyPayload
	}
	if s, ok := w.(*os.File); ok {
		if err := s.Sync(); err != nil {
			return n, err
		}
	}
	return n, nil
}
