package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/dom"
)

const pausedPage = `<html><body><div id="app">
<div class="captions" lang="nl"></div>
<button class="control paused">pause</button>
</div></body></html>`

const playingPage = `<html><body><div id="app">
<div class="captions" lang="nl"></div>
<button class="control">pause</button>
</div></body></html>`

const pageWithoutPlayer = `<html><body><div id="app"><p>landing page</p></div></body></html>`

func testConfig() *config.Config {
	return &config.Config{
		Translate: config.TranslateConfig{
			APIURL:         "https://translate.invalid/api",
			SourceLanguage: language.Dutch,
			TargetLanguage: language.English,
			Timeout:        2,
			CronExpr:       "*/5 * * * *",
		},
		Player: config.PlayerConfig{
			ContainerSelector: ".captions",
			ParagraphSelector: ".cue",
			ControlSelector:   ".control",
			PausedClass:       "paused",
			LanguageAttribute: "lang",
			ProcessedMarker:   "data-translated",
			TranslatedClass:   "translated-caption",
		},
		Overlay: config.OverlayConfig{
			ContainerTimeout: 300 * time.Millisecond,
			ControlTimeout:   50 * time.Millisecond,
			RetryDelay:       30 * time.Millisecond,
			SettleDelay:      10 * time.Millisecond,
			Workers:          2,
		},
		HTTP:    config.HTTPConfig{Addr: ":0"},
		History: config.HistoryConfig{RetentionDays: 30},
		System:  config.SystemConfig{DataDir: "/tmp", TZ: "UTC"},
	}
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	fn    func(text string) (string, error)
}

func (f *fakeTranslator) Translate(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return "Translated: " + text, nil
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTranslator) factory() TranslatorFactory {
	return func(config.RuntimeSettings) (Translator, error) {
		return f, nil
	}
}

func mustParsePage(t *testing.T, raw string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(raw)
	require.NoError(t, err)
	doc.SetLocation("https://stream.example/watch/1")
	return doc
}

func startController(t *testing.T, doc *dom.Document, cfg *config.Config, translator Translator) *Controller {
	t.Helper()

	ctrl := NewController("page-test", doc, cfg, nil, WithTranslatorFactory(func(config.RuntimeSettings) (Translator, error) {
		return translator, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	require.Eventually(t, func() bool {
		return ctrl.Session() != nil
	}, time.Second, 10*time.Millisecond)
	return ctrl
}

func addCaption(t *testing.T, doc *dom.Document, text string) *html.Node {
	t.Helper()

	container := doc.QuerySelector(".captions")
	require.NotNil(t, container)
	nodes, err := dom.ParseFragment(`<p class="cue">`+text+`</p>`, container)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.NoError(t, doc.InsertBefore(container, nodes[0], nil))
	return nodes[0]
}

func translatedSibling(doc *dom.Document, cue *html.Node) *html.Node {
	prev := doc.PrevElementSibling(cue)
	if prev != nil && doc.HasClass(prev, "translated-caption") {
		return prev
	}
	return nil
}

func TestController_TranslatesAndRendersWhilePaused(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{}
	startController(t, doc, testConfig(), translator)

	cue := addCaption(t, doc, "hallo wereld")

	require.Eventually(t, func() bool {
		sibling := translatedSibling(doc, cue)
		return sibling != nil && doc.Text(sibling) == "Translated: hallo wereld"
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, translator.callCount())

	sibling := translatedSibling(doc, cue)
	lang, ok := doc.Attribute(sibling, "lang")
	require.True(t, ok)
	assert.Equal(t, "en", lang)
}

func TestController_DoesNotRenderWhilePlaying(t *testing.T) {
	doc := mustParsePage(t, playingPage)
	translator := &fakeTranslator{}
	ctrl := startController(t, doc, testConfig(), translator)

	cue := addCaption(t, doc, "hallo wereld")

	// The pipeline still translates; only rendering is gated on pause.
	require.Eventually(t, func() bool {
		return ctrl.Stats().TranslationsOK == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, translatedSibling(doc, cue))

	// Pausing triggers the deferred render.
	control := doc.QuerySelector(".control")
	require.NotNil(t, control)
	doc.SetAttribute(control, "class", "control paused")

	require.Eventually(t, func() bool {
		sibling := translatedSibling(doc, cue)
		return sibling != nil && doc.Text(sibling) == "Translated: hallo wereld"
	}, time.Second, 10*time.Millisecond)
}

func TestController_DuplicateTextTranslatedOnce(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{}
	startController(t, doc, testConfig(), translator)

	first := addCaption(t, doc, "hallo wereld")
	second := addCaption(t, doc, "hallo  wereld") // normalizes to the same text

	require.Eventually(t, func() bool {
		return translatedSibling(doc, first) != nil && translatedSibling(doc, second) != nil
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, translator.callCount())
	assert.Equal(t, doc.Text(translatedSibling(doc, first)), doc.Text(translatedSibling(doc, second)))
}

func TestController_ReaddedCaptionIsNotReprocessed(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{}
	ctrl := startController(t, doc, testConfig(), translator)

	cue := addCaption(t, doc, "hallo wereld")
	require.Eventually(t, func() bool {
		return ctrl.Stats().TranslationsOK == 1
	}, time.Second, 10*time.Millisecond)

	// Players shuffle cue nodes in and out of the container; the processed
	// marker keeps the round trip from re-entering the pipeline.
	require.NoError(t, doc.Remove(cue))
	container := doc.QuerySelector(".captions")
	require.NoError(t, doc.InsertBefore(container, cue, nil))

	require.Eventually(t, func() bool {
		return ctrl.Stats().Duplicates >= 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, translator.callCount())
	assert.Equal(t, int64(1), ctrl.Stats().Submitted)
}

func TestController_IgnoresOtherLanguagesAndEmptyCues(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{}
	ctrl := startController(t, doc, testConfig(), translator)

	container := doc.QuerySelector(".captions")

	nodes, err := dom.ParseFragment(`<p class="cue" lang="en">english line</p>`, container)
	require.NoError(t, err)
	require.NoError(t, doc.InsertBefore(container, nodes[0], nil))

	nodes, err = dom.ParseFragment(`<p class="cue">   </p>`, container)
	require.NoError(t, err)
	require.NoError(t, doc.InsertBefore(container, nodes[0], nil))

	require.Eventually(t, func() bool {
		return ctrl.Stats().Skipped == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, translator.callCount())
	assert.Equal(t, int64(0), ctrl.Stats().Submitted)
}

func TestController_FailedTranslationIsNeverRetried(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{fn: func(string) (string, error) {
		return "", errors.New("upstream down")
	}}
	ctrl := startController(t, doc, testConfig(), translator)

	first := addCaption(t, doc, "hallo wereld")
	require.Eventually(t, func() bool {
		return ctrl.Stats().TranslationsFailed == 1
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, translatedSibling(doc, first))

	// The same text in a fresh node hits the still-pending entry.
	second := addCaption(t, doc, "hallo wereld")
	require.Eventually(t, func() bool {
		return ctrl.Stats().Duplicates >= 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, translator.callCount())
	assert.Nil(t, translatedSibling(doc, second))
}

func TestController_NavigationRestartsSession(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{}
	ctrl := startController(t, doc, testConfig(), translator)

	firstSession := ctrl.Session().ID
	addCaption(t, doc, "hallo wereld")
	require.Eventually(t, func() bool {
		return translator.callCount() == 1
	}, time.Second, 10*time.Millisecond)

	// An SPA navigation: new location plus a full snapshot swap. The next
	// session starts with an empty cache, so the same line is translated
	// again.
	doc.SetLocation("https://stream.example/watch/2")
	require.NoError(t, doc.ReplaceContent(`<html><body><div id="app">
<div class="captions" lang="nl"><p class="cue">hallo wereld</p></div>
<button class="control paused">pause</button>
</div></body></html>`))

	require.Eventually(t, func() bool {
		session := ctrl.Session()
		return session != nil && session.ID != firstSession
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return translator.callCount() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), ctrl.Stats().Restarts)
}

func TestController_NotifyNavigationRestarts(t *testing.T) {
	doc := mustParsePage(t, pausedPage)
	translator := &fakeTranslator{}
	ctrl := startController(t, doc, testConfig(), translator)

	firstSession := ctrl.Session().ID
	ctrl.NotifyNavigation("https://stream.example/watch/3")

	require.Eventually(t, func() bool {
		session := ctrl.Session()
		return session != nil && session.ID != firstSession
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "https://stream.example/watch/3", ctrl.Session().URL)
}

func TestController_RetriesUntilContainerAppears(t *testing.T) {
	doc := mustParsePage(t, pageWithoutPlayer)
	cfg := testConfig()
	cfg.Overlay.ContainerTimeout = 40 * time.Millisecond
	translator := &fakeTranslator{}

	ctrl := NewController("page-test", doc, cfg, nil, WithTranslatorFactory(translator.factory()))
	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	// Several timeout+retry cycles pass without a session.
	time.Sleep(150 * time.Millisecond)
	assert.Nil(t, ctrl.Session())

	app := doc.QuerySelector("#app")
	require.NotNil(t, app)
	nodes, err := dom.ParseFragment(`<div class="captions" lang="nl"></div><button class="control paused">pause</button>`, app)
	require.NoError(t, err)
	for _, n := range nodes {
		require.NoError(t, doc.AppendChild(app, n))
	}

	require.Eventually(t, func() bool {
		return ctrl.Session() != nil
	}, time.Second, 10*time.Millisecond)
}

func TestController_SoftFailsWithoutPlaybackControl(t *testing.T) {
	doc := mustParsePage(t, `<html><body><div id="app">
<div class="captions" lang="nl"></div>
</div></body></html>`)
	translator := &fakeTranslator{}
	ctrl := startController(t, doc, testConfig(), translator)

	require.False(t, ctrl.Session().ControlAttached)

	// Translation still runs; with no pause signal nothing is rendered.
	cue := addCaption(t, doc, "hallo wereld")
	require.Eventually(t, func() bool {
		return ctrl.Stats().TranslationsOK == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, translatedSibling(doc, cue))
}

func TestController_TeardownReleasesObserversAndSilencesCallbacks(t *testing.T) {
	doc := mustParsePage(t, pausedPage)

	release := make(chan struct{})
	translator := &fakeTranslator{fn: func(text string) (string, error) {
		<-release
		return "Translated: " + text, nil
	}}
	ctrl := startController(t, doc, testConfig(), translator)

	cue := addCaption(t, doc, "hallo wereld")
	require.Eventually(t, func() bool {
		return translator.callCount() == 1
	}, time.Second, 10*time.Millisecond)

	ctrl.Stop()
	assert.Equal(t, 0, doc.ObserverCount())
	revision := doc.Revision()

	// The in-flight translation finishes after teardown; its ready callback
	// must not touch the document.
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, revision, doc.Revision())
	assert.Nil(t, translatedSibling(doc, cue))
}
