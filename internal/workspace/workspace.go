// Package workspace runs the stage → upload → analyze → render cycle for one
// chart at a time.
//
// The state field, not the mutex, is what serializes submissions: the lock
// is never held across a network call, and a submit that finds the
// workspace Submitting returns BUSY without side effects.
package workspace

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/history"
	"github.com/hpungsan/kaia/internal/normalize"
	"github.com/hpungsan/kaia/internal/present"
	"github.com/hpungsan/kaia/internal/session"
)

// State is a workspace lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateArmed      State = "armed"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// DropZonePlaceholder is shown while no image is staged.
const DropZonePlaceholder = "Drop, paste or select a chart image"

// Submission defaults.
const (
	DefaultTimeframe = "15m"
	DefaultStrategy  = "SMC"
)

// MessageKind classifies the workspace message line.
type MessageKind string

const (
	MessageNone  MessageKind = ""
	MessageInfo  MessageKind = "info"
	MessageGate  MessageKind = "gate"
	MessageError MessageKind = "error"
)

// Image is a staged chart.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Options are the per-submission analysis parameters.
type Options struct {
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy"`
	Language  string `json:"language"`
}

// Backend is the part of the service client the workspace drives.
type Backend interface {
	UploadChart(ctx context.Context, f backend.ChartFile) (string, error)
	AnalyzeChart(ctx context.Context, token string, r backend.AnalyzeRequest) (*backend.AnalyzeResponse, error)
}

// Session is the part of the session store the workspace reads and writes.
type Session interface {
	Credential() (string, bool)
	Profile() (session.Profile, bool)
	ApplyCreditUpdate(n int)
	Clear() error
	Language() string
}

// Recorder stores completed analyses.
type Recorder interface {
	Record(e *history.Entry) error
}

// Config bounds the workspace.
type Config struct {
	UploadTimeout  time.Duration
	AnalyzeTimeout time.Duration
	MaxImageBytes  int64
}

// Workspace owns one analysis cycle.
type Workspace struct {
	client   Backend
	session  Session
	dispatch *present.Dispatcher
	recorder Recorder
	cfg      Config

	mu       sync.Mutex
	state    State
	image    *Image
	view     *present.View
	message  string
	kind     MessageKind
	expanded bool
}

// New creates an idle workspace. recorder may be nil.
func New(client Backend, sess Session, dispatch *present.Dispatcher, recorder Recorder, cfg Config) *Workspace {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = 60 * time.Second
	}
	return &Workspace{
		client:   client,
		session:  sess,
		dispatch: dispatch,
		recorder: recorder,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// Stage validates img and makes it the staged chart, replacing any previous
// one. From Succeeded or Failed the workspace is reset first. A rejected
// image leaves the workspace unchanged.
func (w *Workspace) Stage(img Image) error {
	contentType, err := w.checkImage(img)
	if err != nil {
		return err
	}

	data := make([]byte, len(img.Data))
	copy(data, img.Data)
	staged := &Image{Name: stagedName(img.Name, contentType), ContentType: contentType, Data: data}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateSubmitting {
		return errors.NewBusy()
	}
	if w.state == StateSucceeded || w.state == StateFailed {
		w.resetLocked()
	}
	w.image = staged
	w.state = StateArmed
	w.message, w.kind = "", MessageNone
	return nil
}

func (w *Workspace) checkImage(img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.NewInvalidImage("")
	}
	if w.cfg.MaxImageBytes > 0 && int64(len(img.Data)) > w.cfg.MaxImageBytes {
		return "", errors.NewFileTooLarge(w.cfg.MaxImageBytes, int64(len(img.Data)))
	}
	sniffed := http.DetectContentType(img.Data)
	if !strings.HasPrefix(sniffed, "image/") {
		return "", errors.NewInvalidImage(sniffed)
	}
	if declared := strings.TrimSpace(img.ContentType); declared != "" && !strings.HasPrefix(strings.ToLower(declared), "image/") {
		return "", errors.NewInvalidImage(declared)
	}
	return sniffed, nil
}

// Submit runs gate checks, then uploads the staged chart and analyzes it.
// Gate failures return before any network call and leave the state as it
// was. Every submit performs a fresh upload.
func (w *Workspace) Submit(ctx context.Context, opts Options) (*present.View, error) {
	img, token, profile, hasProfile, err := w.begin()
	if err != nil {
		return nil, err
	}

	opts = w.withDefaults(opts)
	finished := false
	defer func() {
		if !finished {
			// Nothing may leave the workspace stuck in Submitting.
			w.fail(errors.NewInternal(nil))
		}
	}()

	view, err := w.run(ctx, img, token, profile, hasProfile, opts)
	finished = true
	if err != nil {
		return nil, w.fail(err)
	}
	return view, nil
}

// begin applies the gates in order and moves to Submitting.
func (w *Workspace) begin() (*Image, string, session.Profile, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateSubmitting {
		return nil, "", session.Profile{}, false, errors.NewBusy()
	}

	gate := func(err *errors.KaiaError) (*Image, string, session.Profile, bool, error) {
		w.message, w.kind = err.Message, MessageGate
		return nil, "", session.Profile{}, false, err
	}

	if w.image == nil {
		return gate(errors.NewNoImage())
	}
	token, ok := w.session.Credential()
	if !ok {
		return gate(errors.NewNotLoggedIn())
	}
	profile, hasProfile := w.session.Profile()
	if hasProfile && profile.OutOfTrialCredits() {
		return gate(errors.NewNoCredits())
	}

	w.state = StateSubmitting
	w.message, w.kind = "KAIA ANALYZING...", MessageInfo
	img := *w.image
	return &img, token, profile, hasProfile, nil
}

func (w *Workspace) run(ctx context.Context, img *Image, token string, profile session.Profile, hasProfile bool, opts Options) (*present.View, error) {
	uploadCtx, cancelUpload := context.WithTimeout(ctx, w.cfg.UploadTimeout)
	filename, err := w.client.UploadChart(uploadCtx, backend.ChartFile{
		Name:        img.Name,
		ContentType: img.ContentType,
		Data:        img.Data,
	})
	cancelUpload()
	if err != nil {
		return nil, err
	}

	analyzeCtx, cancelAnalyze := context.WithTimeout(ctx, w.cfg.AnalyzeTimeout)
	resp, err := w.client.AnalyzeChart(analyzeCtx, token, backend.AnalyzeRequest{
		Filename:     filename,
		Timeframe:    opts.Timeframe,
		AnalysisType: opts.Strategy,
		Lang:         opts.Language,
	})
	cancelAnalyze()
	if err != nil {
		return nil, err
	}

	tier := resp.TierMode
	if hasProfile {
		tier = profile.Tier
	}
	result := normalize.NormalizeResponse(resp.Analysis, resp.Envelope)
	view := w.dispatch.Render(tier, result)

	if resp.RemainingCredits != nil {
		w.session.ApplyCreditUpdate(*resp.RemainingCredits)
	}
	if w.recorder != nil {
		entry := &history.Entry{
			Tier:             tier,
			View:             string(view.Variant),
			Timeframe:        opts.Timeframe,
			Strategy:         opts.Strategy,
			Language:         opts.Language,
			Result:           result,
			RemainingCredits: resp.RemainingCredits,
		}
		if err := w.recorder.Record(entry); err != nil {
			slog.Warn("failed to record analysis", "error", err)
		}
	}

	w.mu.Lock()
	w.state = StateSucceeded
	w.view = &view
	w.expanded = view.Expanded()
	w.message, w.kind = "", MessageNone
	w.mu.Unlock()

	slog.Info("analysis completed",
		"tier", tier,
		"view", view.Variant,
		"timeframe", opts.Timeframe,
		"strategy", opts.Strategy,
	)
	return &view, nil
}

// fail records err on the workspace and returns it. A rejected credential
// clears the session and resets to Idle; everything else lands in Failed
// with the image still staged.
func (w *Workspace) fail(err error) error {
	kErr, ok := errors.As(err)
	if !ok {
		kErr = errors.NewInternal(err)
		err = kErr
	}

	if kErr.Code == errors.ErrUnauthenticated {
		if clearErr := w.session.Clear(); clearErr != nil {
			slog.Error("failed to clear session", "error", clearErr)
		}
		w.mu.Lock()
		w.resetLocked()
		w.message, w.kind = errors.UserMessage(err), MessageError
		w.mu.Unlock()
		slog.Info("session expired during analysis")
		return err
	}

	kind := MessageError
	if kErr.Code == errors.ErrUpgradeRequired || kErr.Code == errors.ErrOutOfCredits {
		kind = MessageGate
	}

	w.mu.Lock()
	w.state = StateFailed
	w.view = nil
	w.expanded = false
	w.message, w.kind = errors.UserMessage(err), kind
	w.mu.Unlock()

	slog.Warn("analysis failed", "code", kErr.Code, "details", kErr.Details)
	return err
}

// Reset clears the staged image, result and message and restores the drop
// zone placeholder. It is idempotent and does nothing while Submitting.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateSubmitting {
		return
	}
	w.resetLocked()
}

func (w *Workspace) resetLocked() {
	w.state = StateIdle
	w.image = nil
	w.view = nil
	w.expanded = false
	w.message, w.kind = "", MessageNone
}

// ToggleExpanded opens or collapses the expanded result panel. Only an
// expanded view can be opened.
func (w *Workspace) ToggleExpanded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view == nil || !w.view.Expanded() {
		w.expanded = false
		return false
	}
	w.expanded = !w.expanded
	return w.expanded
}

func (w *Workspace) withDefaults(opts Options) Options {
	opts.Timeframe = strings.TrimSpace(opts.Timeframe)
	opts.Strategy = strings.TrimSpace(opts.Strategy)
	opts.Language = strings.TrimSpace(opts.Language)
	if opts.Timeframe == "" {
		opts.Timeframe = DefaultTimeframe
	}
	if opts.Strategy == "" {
		opts.Strategy = DefaultStrategy
	}
	if opts.Language == "" {
		opts.Language = w.session.Language()
	}
	return opts
}

// Snapshot is a read-only copy of the workspace for rendering.
type Snapshot struct {
	State        State            `json:"state"`
	HasImage     bool             `json:"has_image"`
	ImageName    string           `json:"image_name,omitempty"`
	ImageType    string           `json:"image_type,omitempty"`
	ImageSize    int              `json:"image_size,omitempty"`
	Preview      string           `json:"-"`
	DropZoneText string           `json:"drop_zone_text"`
	Message      string           `json:"message,omitempty"`
	MessageKind  MessageKind      `json:"message_kind,omitempty"`
	View         *present.View    `json:"view,omitempty"`
	Expanded     bool             `json:"expanded"`
	Busy         bool             `json:"busy"`
	LoggedIn     bool             `json:"logged_in"`
	Profile      *session.Profile `json:"profile,omitempty"`
}

// Snapshot returns the current state.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	s := Snapshot{
		State:        w.state,
		DropZoneText: DropZonePlaceholder,
		Message:      w.message,
		MessageKind:  w.kind,
		Expanded:     w.expanded,
		Busy:         w.state == StateSubmitting,
	}
	if w.image != nil {
		s.HasImage = true
		s.ImageName = w.image.Name
		s.ImageType = w.image.ContentType
		s.ImageSize = len(w.image.Data)
		s.DropZoneText = w.image.Name
		s.Preview = "data:" + w.image.ContentType + ";base64," + base64.StdEncoding.EncodeToString(w.image.Data)
	}
	if w.view != nil {
		v := *w.view
		s.View = &v
	}
	w.mu.Unlock()

	_, s.LoggedIn = w.session.Credential()
	if p, ok := w.session.Profile(); ok {
		s.Profile = &p
	}
	return s
}

// State returns the current lifecycle state.
func (w *Workspace) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func stagedName(name, contentType string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	ext := strings.TrimPrefix(contentType, "image/")
	if i := strings.IndexAny(ext, "+;"); i >= 0 {
		ext = ext[:i]
	}
	return "chart." + ext
}
