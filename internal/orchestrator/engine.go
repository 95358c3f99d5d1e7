// Package orchestrator turns translation jobs into rate-limited streams of
// provider calls and reports each outcome back to the caller.
//
// Every job gets its own gate, queue and counters. Work items start in FIFO
// order, at most one gate budget per dispatch cycle, and complete in any
// order. A job finishes once queueing is sealed and every item has either
// been dealt with or dropped by cancellation; a terminal reply with Done set
// marks that moment.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/dispatch"
	"github.com/valpere/batchtran/internal/placeholder"
	"github.com/valpere/batchtran/internal/postprocess"
	"github.com/valpere/batchtran/internal/ratelimit"
	"github.com/valpere/batchtran/internal/translator"
)

// invalidParameters is the error text of the synchronous rejection reply.
const invalidParameters = "Invalid parameters"

// ErrInvalidParameters is returned for a submission missing a required field.
var ErrInvalidParameters = errors.New("invalid parameters")

// Replier delivers replies for a task back to the caller.
type Replier interface {
	Reply(taskID string, reply internal.Reply)
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(taskID string, reply internal.Reply)

func (f ReplierFunc) Reply(taskID string, reply internal.Reply) { f(taskID, reply) }

// Recorder persists job history. Failures are logged and never affect the job.
type Recorder interface {
	CreateJob(ctx context.Context, job internal.Job) error
	RecordItem(ctx context.Context, item internal.ItemOutcome) error
	FinishJob(ctx context.Context, summary internal.Summary) error
}

// Validator checks that a translation is written in its target language.
type Validator interface {
	IsValid(text, targetLang string) (bool, error)
}

// Memorizer is implemented by services that keep a translation memory, such
// as translator.CachedService. The engine hands back every result it
// accepts; rejected output is never remembered.
type Memorizer interface {
	Remember(ctx context.Context, req translator.TranslateRequest, result *translator.ServiceResult) error
}

type Config struct {
	QPS                 int
	Interval            time.Duration
	Limiter             string
	RequestTimeout      time.Duration
	MaxAttempts         int
	RetryDelay          time.Duration
	ProtectPlaceholders bool
	// TidyOutput restores the source's outer whitespace on translations and
	// strips quote pairs the provider added.
	TidyOutput          bool
	// LangMap overrides the provider's default language map.
	LangMap             map[string]string
}

type Engine struct {
	service   translator.TranslationService
	config    Config
	langs     translator.LangMap
	logger    zerolog.Logger
	recorder  Recorder
	validator Validator
	memory    Memorizer
	newGate   func() (ratelimit.Gate, error)
}

// Option customises an Engine.
type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithGateFactory replaces the per-job gate built from Config.
func WithGateFactory(fn func() (ratelimit.Gate, error)) Option {
	return func(e *Engine) { e.newGate = fn }
}

func New(service translator.TranslationService, config Config, opts ...Option) *Engine {
	if config.QPS < 1 {
		config.QPS = 5
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 500 * time.Millisecond
	}

	e := &Engine{
		service: service,
		config:  config,
		langs:   service.Languages().Merge(config.LangMap),
		logger:  zerolog.Nop(),
	}
	if m, ok := service.(Memorizer); ok {
		e.memory = m
	}
	e.newGate = func() (ratelimit.Gate, error) {
		return ratelimit.New(e.config.Limiter, e.config.QPS, e.config.Interval)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Languages returns the effective language map.
func (e *Engine) Languages() translator.LangMap { return e.langs }

// BatchTranslate submits a batch job. Each item outcome produces one reply
// to replier, followed by a terminal reply with Done set. A submission
// missing operate, sources, targets or strings, or naming no sources or no
// targets, gets a single error reply and ErrInvalidParameters.
func (e *Engine) BatchTranslate(ctx context.Context, taskID string, params *internal.BatchParams, replier Replier) (*Run, error) {
	if params == nil || params.Operate == nil || params.Sources == nil || params.Targets == nil ||
		params.Strings == nil || len(params.Sources) == 0 || len(params.Targets) == 0 {
		replier.Reply(taskID, internal.Reply{Error: invalidParameters})
		return nil, ErrInvalidParameters
	}

	job := internal.Job{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Kind:      internal.KindBatch,
		Mode:      internal.ParseMode(*params.Operate),
		Sources:   params.Sources,
		Targets:   params.Targets,
		Entries:   params.Strings,
		CreatedAt: time.Now(),
	}
	logger := e.jobLogger(job)
	items := BuildItems(job, e.langs, logger)

	return e.start(ctx, job, items, replier, logger)
}

// Translate submits a keyed job. No per-item replies are sent; a single
// terminal reply carries every successful translation grouped by key and
// target. Failed items are logged and left out.
func (e *Engine) Translate(ctx context.Context, taskID string, reqs map[string]internal.KeyedRequest, replier Replier) (*Run, error) {
	if reqs == nil {
		replier.Reply(taskID, internal.Reply{Error: invalidParameters})
		return nil, ErrInvalidParameters
	}

	job := internal.Job{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Kind:      internal.KindKeyed,
		Mode:      internal.ModeAll,
		CreatedAt: time.Now(),
	}
	seenSrc, seenTgt := map[string]bool{}, map[string]bool{}
	for key, req := range reqs {
		text := req.Text
		job.Entries = append(job.Entries, internal.Entry{Key: key, Strings: map[string]*string{req.From: &text}})
		if !seenSrc[req.From] {
			seenSrc[req.From] = true
			job.Sources = append(job.Sources, req.From)
		}
		for _, t := range req.Targets {
			if !seenTgt[t] {
				seenTgt[t] = true
				job.Targets = append(job.Targets, t)
			}
		}
	}
	logger := e.jobLogger(job)
	items := BuildKeyedItems(job.ID, reqs, e.langs)

	return e.start(ctx, job, items, replier, logger)
}

func (e *Engine) jobLogger(job internal.Job) zerolog.Logger {
	return e.logger.With().
		Str("job_id", job.ID).
		Str("task_id", job.TaskID).
		Str("kind", job.Kind).
		Logger()
}

func (e *Engine) start(ctx context.Context, job internal.Job, items []internal.WorkItem, replier Replier, logger zerolog.Logger) (*Run, error) {
	gate, err := e.newGate()
	if err != nil {
		return nil, fmt.Errorf("failed to create rate gate: %w", err)
	}

	if e.recorder != nil {
		if err := e.recorder.CreateJob(ctx, job); err != nil {
			logger.Warn().Err(err).Msg("failed to record job")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	agg := newAggregator(job,
		func(r internal.Reply) { replier.Reply(job.TaskID, r) },
		func(s internal.Summary) {
			cancel()
			e.finish(s, logger)
		},
	)
	run := &Run{ID: job.ID, TaskID: job.TaskID, cancel: cancel, agg: agg}

	queue := dispatch.NewWorkQueue()
	disp := dispatch.New(gate, queue,
		dispatch.WithLogger(logger),
		dispatch.OnDrop(agg.drop),
	)

	truncated := false
	for _, item := range items {
		if ctx.Err() != nil {
			truncated = true
			break
		}
		agg.add()
		item := item
		queue.Push(func(ctx context.Context) {
			go e.process(ctx, gate, agg, item, logger)
		})
	}
	disp.Kick(ctx)
	agg.seal(truncated)

	logger.Info().
		Int("items", len(items)).
		Int("qps", gate.Budget()).
		Msg("job submitted")

	return run, nil
}

func (e *Engine) finish(s internal.Summary, logger zerolog.Logger) {
	logger.Info().
		Int("total", s.Total).
		Int("translated", s.Translated).
		Int("failed", s.Failed).
		Int("dropped", s.Dropped).
		Bool("canceled", s.Canceled).
		Dur("duration", s.Duration).
		Msg("job finished")

	if e.recorder != nil {
		if err := e.recorder.FinishJob(context.Background(), s); err != nil {
			logger.Warn().Err(err).Msg("failed to record job summary")
		}
	}
}

// process runs one started item to completion. Cancellation of the job
// does not interrupt a provider call in flight; it only stops further
// retries.
func (e *Engine) process(ctx context.Context, gate ratelimit.Gate, agg *aggregator, item internal.WorkItem, logger zerolog.Logger) {
	o := e.execute(ctx, gate, item, logger)
	ctx = context.WithoutCancel(ctx)

	if o.translated() {
		logger.Debug().
			Str("key", item.Key).
			Str("target", item.TargetLang).
			Msg("translation success")
	} else {
		logger.Warn().
			Str("key", item.Key).
			Str("target", item.TargetLang).
			Int("attempts", o.attempts).
			Msg(o.errMsg)
	}

	if e.recorder != nil {
		if err := e.recorder.RecordItem(ctx, o.record()); err != nil {
			logger.Warn().Err(err).Int("seq", item.Seq).Msg("failed to record item")
		}
	}

	agg.record(o)
}

// execute calls the provider, retrying transport errors with exponential
// backoff, and classifies the final response. The first call runs on the
// permit the dispatcher granted; every retry takes its own from gate.
func (e *Engine) execute(ctx context.Context, gate ratelimit.Gate, item internal.WorkItem, logger zerolog.Logger) (o outcome) {
	o = outcome{item: item, service: e.service.Name()}
	start := time.Now()
	defer func() { o.latency = time.Since(start) }()

	text := item.SourceText
	var markers []string
	if e.config.ProtectPlaceholders {
		text, markers = placeholder.Protect(text)
	}
	req := translator.TranslateRequest{Text: text, SourceLang: item.ProviderFrom, TargetLang: item.ProviderTo}

	var (
		res *translator.ServiceResult
		err error
	)
	callCtx := context.WithoutCancel(ctx)
	delay := e.config.RetryDelay
	for o.attempts = 1; ; o.attempts++ {
		res, err = e.call(callCtx, req)
		if err == nil || o.attempts >= e.config.MaxAttempts {
			break
		}
		logger.Debug().
			Err(err).
			Str("key", item.Key).
			Str("target", item.TargetLang).
			Int("attempt", o.attempts).
			Dur("backoff", delay).
			Msg("transport error, retrying")
		if werr := awaitRetry(ctx, gate, delay); werr != nil {
			logger.Debug().
				Err(werr).
				Str("key", item.Key).
				Str("target", item.TargetLang).
				Msg("retry abandoned")
			break
		}
		delay *= 2
	}

	switch {
	case err != nil:
		o.errMsg = transportError(item, err)
	case res.Rejected():
		code, msg := "", "empty translation response"
		if res != nil {
			code = res.ErrorCode
			if res.ErrorMessage != "" {
				msg = res.ErrorMessage
			}
		}
		o.errMsg = providerError(item, msg, code)
	default:
		o.text = res.TranslatedText
		if res.ServiceName != "" {
			o.service = res.ServiceName
		}
		if len(markers) > 0 {
			if missing := placeholder.Validate(o.text, markers); len(missing) > 0 {
				o.text = ""
				o.errMsg = providerError(item, fmt.Sprintf("placeholders lost: %v", missing), "placeholder")
				return o
			}
			o.text = placeholder.Restore(o.text, markers)
		}
		if e.config.TidyOutput {
			o.text = postprocess.Tidy(item.SourceText, o.text)
		}
		if e.validator != nil {
			if ok, verr := e.validator.IsValid(o.text, item.TargetLang); !ok {
				msg := "unexpected output language"
				if verr != nil {
					msg = verr.Error()
				}
				o.text = ""
				o.errMsg = providerError(item, msg, "language")
				return o
			}
		}
		if e.memory != nil {
			if merr := e.memory.Remember(callCtx, req, res); merr != nil {
				logger.Warn().Err(merr).Str("key", item.Key).Msg("failed to save translation memory")
			}
		}
	}
	return o
}

// awaitRetry waits out the backoff and then takes one permit from gate. It
// fails once ctx is done.
func awaitRetry(ctx context.Context, gate ratelimit.Gate, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	_, err := gate.Take(ctx, 1)
	return err
}

func (e *Engine) call(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
	if e.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
	}
	return e.service.Translate(ctx, req)
}

func providerError(item internal.WorkItem, msg, code string) string {
	return fmt.Sprintf("Translation failed for %s from %s to %s, message: %s, code: %s",
		item.SourceText, item.SourceLang, item.TargetLang, msg, code)
}

func transportError(item internal.WorkItem, err error) string {
	return fmt.Sprintf("Translation failed for %s from %s to %s, message: %v",
		item.SourceText, item.SourceLang, item.TargetLang, err)
}
