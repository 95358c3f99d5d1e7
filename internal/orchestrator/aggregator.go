package orchestrator

import (
	"sync"
	"time"

	"github.com/valpere/batchtran/internal"
)

const canceledMessage = "job canceled"

// outcome is the classified result of one work item.
type outcome struct {
	item     internal.WorkItem
	text     string
	errMsg   string
	service  string
	attempts int
	latency  time.Duration
}

func (o outcome) translated() bool { return o.errMsg == "" }

func (o outcome) record() internal.ItemOutcome {
	rec := internal.ItemOutcome{
		JobID:      o.item.JobID,
		Seq:        o.item.Seq,
		Key:        o.item.Key,
		SourceLang: o.item.SourceLang,
		TargetLang: o.item.TargetLang,
		SourceText: o.item.SourceText,
		Service:    o.service,
		Attempts:   o.attempts,
		Latency:    o.latency,
	}
	if o.translated() {
		rec.Status = internal.StatusTranslated
		rec.Result = o.text
	} else {
		rec.Status = internal.StatusFailed
		rec.Error = o.errMsg
	}
	return rec
}

// aggregator owns one job's DispatchState. Every counter change and every
// reply happens under mu, so deal never goes backwards across the reply
// stream.
type aggregator struct {
	job   internal.Job
	reply func(internal.Reply)
	start time.Time

	mu         sync.Mutex
	total      int
	deal       int
	dropped    int
	translated int
	failed     int
	sealed     bool
	canceled   bool
	finished   bool
	results    map[string]map[string]string
	summary    internal.Summary

	done     chan struct{}
	onFinish func(internal.Summary)
}

func newAggregator(job internal.Job, reply func(internal.Reply), onFinish func(internal.Summary)) *aggregator {
	a := &aggregator{
		job:      job,
		reply:    reply,
		start:    time.Now(),
		done:     make(chan struct{}),
		onFinish: onFinish,
	}
	if job.Kind == internal.KindKeyed {
		a.results = make(map[string]map[string]string, len(job.Entries))
		for _, e := range job.Entries {
			a.results[e.Key] = map[string]string{}
		}
	}
	return a
}

// add counts one more enqueued item.
func (a *aggregator) add() {
	a.mu.Lock()
	a.total++
	a.mu.Unlock()
}

// seal marks queueing as finished. A job with nothing left outstanding
// completes here.
func (a *aggregator) seal(truncated bool) {
	a.mu.Lock()
	a.sealed = true
	if truncated {
		a.canceled = true
	}
	fin := a.finishIfComplete()
	a.mu.Unlock()
	fin()
}

// drop accounts for queued items discarded on cancellation.
func (a *aggregator) drop(n int) {
	a.mu.Lock()
	a.dropped += n
	a.canceled = true
	fin := a.finishIfComplete()
	a.mu.Unlock()
	fin()
}

// record merges one outcome and emits the per-item reply.
func (a *aggregator) record(o outcome) {
	a.mu.Lock()
	a.deal++
	if o.translated() {
		a.translated++
	} else {
		a.failed++
	}

	switch a.job.Kind {
	case internal.KindKeyed:
		if o.translated() {
			if a.results[o.item.Key] == nil {
				a.results[o.item.Key] = map[string]string{}
			}
			a.results[o.item.Key][o.item.TargetLang] = o.text
		}
	default:
		r := internal.Reply{Total: a.total, Deal: a.deal}
		if o.translated() {
			r.Strings = []internal.ResultString{{Key: o.item.Key, Target: o.item.TargetLang, Result: o.text}}
		} else {
			r.Error = o.errMsg
		}
		a.reply(r)
	}

	fin := a.finishIfComplete()
	a.mu.Unlock()
	fin()
}

// complete reports whether no further outcomes are expected. mu must be held.
func (a *aggregator) complete() bool {
	return a.sealed && a.deal+a.dropped == a.total
}

// finishIfComplete emits the terminal reply once and returns the follow-up
// to run after mu is released. mu must be held.
func (a *aggregator) finishIfComplete() func() {
	if a.finished || !a.complete() {
		return func() {}
	}
	a.finished = true

	r := internal.Reply{Total: a.total, Deal: a.deal, Done: true}
	if a.job.Kind == internal.KindKeyed {
		r.Results = a.results
	}
	if a.canceled {
		r.Error = canceledMessage
	}
	a.reply(r)

	a.summary = internal.Summary{
		JobID:      a.job.ID,
		TaskID:     a.job.TaskID,
		Total:      a.total,
		Deal:       a.deal,
		Dropped:    a.dropped,
		Translated: a.translated,
		Failed:     a.failed,
		Canceled:   a.canceled,
		Duration:   time.Since(a.start),
	}
	summary := a.summary

	return func() {
		if a.onFinish != nil {
			a.onFinish(summary)
		}
		close(a.done)
	}
}

func (a *aggregator) progress() internal.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return internal.Progress{Total: a.total, Deal: a.deal, Dropped: a.dropped, Sealed: a.sealed}
}

func (a *aggregator) result() internal.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}
