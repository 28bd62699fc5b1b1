package overlay

import "sync/atomic"

// Stats counts pipeline activity for one page, across its session restarts.
// All counters are atomic so the watcher, dispatcher workers and HTTP
// snapshots never contend.
type Stats struct {
	captionsSeen       atomic.Int64
	submitted          atomic.Int64
	duplicates         atomic.Int64
	skipped            atomic.Int64
	translationsOK     atomic.Int64
	translationsEmpty  atomic.Int64
	translationsFailed atomic.Int64
	rendered           atomic.Int64
	renderErrors       atomic.Int64
	restarts           atomic.Int64
}

// StatsSnapshot is the JSON shape reported by the status endpoint.
type StatsSnapshot struct {
	CaptionsSeen       int64 `json:"captions_seen"`
	Submitted          int64 `json:"submitted"`
	Duplicates         int64 `json:"duplicates"`
	Skipped            int64 `json:"skipped"`
	TranslationsOK     int64 `json:"translations_ok"`
	TranslationsEmpty  int64 `json:"translations_empty"`
	TranslationsFailed int64 `json:"translations_failed"`
	Rendered           int64 `json:"rendered"`
	RenderErrors       int64 `json:"render_errors"`
	Restarts           int64 `json:"restarts"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		CaptionsSeen:       s.captionsSeen.Load(),
		Submitted:          s.submitted.Load(),
		Duplicates:         s.duplicates.Load(),
		Skipped:            s.skipped.Load(),
		TranslationsOK:     s.translationsOK.Load(),
		TranslationsEmpty:  s.translationsEmpty.Load(),
		TranslationsFailed: s.translationsFailed.Load(),
		Rendered:           s.rendered.Load(),
		RenderErrors:       s.renderErrors.Load(),
		Restarts:           s.restarts.Load(),
	}
}
