// File: internal/harness/settle.go
package harness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/observability"
)

// proxyFailureMarker prefixes the text/plain body the proxy serves when the
// upstream cannot be reached.
const proxyFailureMarker = "Error occured while trying to proxy"

// State is a stage of the settlement state machine.
type State int

const (
	StateNavigationStarted State = iota
	StateNativeLoadFired
	StateHealthChecked
	StateFrameworkQuiescent
	StateElementsReady
	StateNetworkSettled
	StateResolved
	StateProxyError
	StatePageError
)

func (s State) String() string {
	switch s {
	case StateNavigationStarted:
		return "NavigationStarted"
	case StateNativeLoadFired:
		return "NativeLoadFired"
	case StateHealthChecked:
		return "HealthChecked"
	case StateFrameworkQuiescent:
		return "FrameworkQuiescent"
	case StateElementsReady:
		return "ElementsReady"
	case StateNetworkSettled:
		return "NetworkSettled"
	case StateResolved:
		return "Resolved"
	case StateProxyError:
		return "ProxyError"
	case StatePageError:
		return "PageError"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Timings holds the detector's waits.
type Timings struct {
	// NetworkGrace is always waited before the network is inspected.
	NetworkGrace time.Duration
	// NetworkIdle is how long the network must stay quiet after the last completion.
	NetworkIdle     time.Duration
	NetworkPoll     time.Duration
	ElementTimeout  time.Duration
	ElementInterval time.Duration
}

// TimingsFromConfig extracts the detector timings from the settle config.
func TimingsFromConfig(cfg config.SettleConfig) Timings {
	return Timings{
		NetworkGrace:    cfg.NetworkGrace,
		NetworkIdle:     cfg.NetworkIdle,
		NetworkPoll:     cfg.NetworkPoll,
		ElementTimeout:  cfg.ElementTimeout,
		ElementInterval: cfg.ElementInterval,
	}
}

// Outcome describes one completed settlement cycle.
type Outcome struct {
	Started  time.Time
	Loaded   time.Time
	Settled  time.Time
	// End is the time used for the recorded load duration: the last ajax
	// completion when the network was awaited and any request completed,
	// otherwise the moment required elements were ready.
	End  time.Time
	Path string
}

// Duration is the recorded page load time.
func (o Outcome) Duration() time.Duration { return o.End.Sub(o.Started) }

// Detector runs the settlement state machine for a frame.
type Detector struct {
	health     HealthInspector
	quiescence QuiescenceChecker
	timings    Timings
	logger     *zap.Logger
	waitLog    *rate.Sometimes

	// OnTransition, when set, observes every state change.
	OnTransition func(State)
}

// NewDetector builds a detector. A nil health inspector skips the health
// check; a nil quiescence checker treats every page as quiescent.
func NewDetector(timings Timings, health HealthInspector, quiescence QuiescenceChecker, logger *zap.Logger) *Detector {
	if quiescence == nil {
		quiescence = NoopQuiescence{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		health:     health,
		quiescence: quiescence,
		timings:    timings,
		logger:     logger.Named("settle"),
		waitLog:    &rate.Sometimes{Interval: 2 * time.Second},
	}
}

// popupTimeout caps the post-load popup suppression.
const popupTimeout = 5 * time.Second

// settleRequest is one pending action awaiting its load.
type settleRequest struct {
	frame   *Frame
	after   uint64
	opts    ActionOptions
	start   time.Time
	clicked string
}

var (
	styleListening  = observability.Style{Color: "grey", Emoji: "👂", FontStyle: "italic"}
	styleWaiting    = observability.Style{Color: "grey", Emoji: "⌛", FontStyle: "italic"}
	stylePageLoaded = observability.Style{Color: "grey", Emoji: "📄", FontStyle: "italic"}
	styleLoadTime   = observability.Style{Color: "grey", Emoji: "⌚", FontStyle: "italic", DataAttributes: "data-page-load-time"}
	stylePerfTime   = observability.Style{Emoji: "⏱️", DataAttributes: "data-page-load-time data-page-load-time-performance"}
)

func (d *Detector) transition(s State) {
	if d.OnTransition != nil {
		d.OnTransition(s)
	}
}

// settle runs a full cycle: wait for the next load, check for proxy and
// application failures, wait for quiescence, required elements and
// optionally the network.
func (d *Detector) settle(ctx context.Context, req settleRequest) (Outcome, error) {
	f := req.frame
	out := Outcome{Started: req.start}

	d.transition(StateNavigationStarted)
	_, loadedAt, err := f.awaitLoad(ctx, req.after)
	if err != nil {
		return out, err
	}
	f.cycles.Add(1)
	out.Loaded = loadedAt
	d.transition(StateNativeLoadFired)

	doc, docErr := f.CurrentDocument(ctx)
	if docErr != nil {
		d.logger.Debug("Could not read loaded document.", zap.Error(docErr))
	}
	out.Path = doc.Path
	d.logger.Info(fmt.Sprintf("%s -- listening for AJAX events on: %s", stamp(), doc.Path), observability.Styled(styleListening))
	defer d.afterLoad(ctx, f)

	if docErr == nil && doc.ContentType == "text/plain" && strings.HasPrefix(doc.Text, proxyFailureMarker) {
		d.transition(StateProxyError)
		return out, &ProxyLoadError{Body: doc.Text}
	}

	if d.health != nil {
		report, err := d.health.Inspect(ctx, f, req.opts)
		if err != nil {
			return out, err
		}
		if !report.PageLoaded {
			d.transition(StatePageError)
			return out, &PageLoadError{Reason: report.Error}
		}
	}
	d.transition(StateHealthChecked)

	if err := d.quiescence.Wait(ctx, f); err != nil {
		return out, err
	}
	d.transition(StateFrameworkQuiescent)

	if err := d.waitForElements(ctx, f, req.opts.WaitForElements); err != nil {
		return out, err
	}
	out.End = time.Now()
	d.transition(StateElementsReady)

	waitNetwork := req.opts.WaitForAjax || req.opts.IsPerformanceTest
	if waitNetwork {
		last, err := d.waitForNetwork(ctx, f)
		if err != nil {
			return out, err
		}
		if !last.IsZero() {
			out.End = last
		}
		d.transition(StateNetworkSettled)
	}

	out.Settled = time.Now()
	d.logLoadDuration(out, doc, req)
	d.logger.Info(fmt.Sprintf("%s -- page loaded: %s -- waited for AJAX requests: %t", stamp(), doc.Path, waitNetwork),
		observability.Styled(stylePageLoaded))
	d.transition(StateResolved)
	return out, nil
}

// settleInPlace is the lighter wait used after an interaction that does not
// navigate: quiescence, then required elements.
func (d *Detector) settleInPlace(ctx context.Context, f *Frame, opts ActionOptions) error {
	if err := d.quiescence.Wait(ctx, f); err != nil {
		return err
	}
	return d.waitForElements(ctx, f, opts.WaitForElements)
}

// afterLoad runs after every observed load, successful or not. It is bound
// by the action context, so it never outlives the action that loaded the page.
func (d *Detector) afterLoad(ctx context.Context, f *Frame) {
	ctx, cancel := context.WithTimeout(ctx, popupTimeout)
	defer cancel()
	if err := f.dom.SuppressPopups(ctx); err != nil {
		d.logger.Debug("Could not suppress popups.", zap.Error(err))
	}
}

// waitForElements polls for each selector, in order, until it exists and is
// visible. A selector that never appears does not fail the action.
func (d *Detector) waitForElements(ctx context.Context, f *Frame, selectors []string) error {
	for _, sel := range selectors {
		loc := Locator{Selector: sel, Index: 0}
		err := Retry(ctx, d.logger, RetryOptions{
			Timeout:     d.timings.ElementTimeout,
			Interval:    d.timings.ElementInterval,
			SuppressLog: true,
		}, func(ctx context.Context) (bool, error) {
			els, err := f.dom.Query(ctx, loc)
			if err != nil {
				d.logger.Debug("Element query failed, retrying.", zap.String("selector", sel), zap.Error(err))
				return true, nil
			}
			return len(els) == 0 || !els[0].Visible, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// waitForNetwork waits the grace period, then until no request is active
// and the last completion is at least NetworkIdle old. It returns the last
// completion time, which is zero if nothing completed.
func (d *Detector) waitForNetwork(ctx context.Context, f *Frame) (time.Time, error) {
	if err := sleep(ctx, d.timings.NetworkGrace); err != nil {
		return time.Time{}, err
	}
	poll := d.timings.NetworkPoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	for {
		active, last := f.ajax.Snapshot()
		idle := last.IsZero() || time.Since(last) >= d.timings.NetworkIdle
		if active == 0 && idle {
			return last, nil
		}
		if active > 0 {
			d.waitLog.Do(func() {
				d.logger.Info(fmt.Sprintf("waiting for %d AJAX request(s) to complete...", active), observability.Styled(styleWaiting))
			})
		}
		if err := sleep(ctx, poll); err != nil {
			return time.Time{}, err
		}
	}
}

func (d *Detector) logLoadDuration(out Outcome, doc Document, req settleRequest) {
	search := doc.Search
	if decoded, err := url.PathUnescape(search); err == nil {
		search = decoded
	}
	txt := fmt.Sprintf("%s to load %s%s", FormatLoadTime(out.Duration()), doc.Path, search)
	if req.clicked != "" {
		txt += " -- via " + strings.ReplaceAll(EscapeHTML(req.clicked), "\n", " ")
	}
	style := styleLoadTime
	if req.opts.IsPerformanceTest {
		txt = "(Perf) " + txt
		style = stylePerfTime
	}
	d.logger.Info(txt, observability.Styled(style), zap.Duration("load_time", out.Duration()))
}

// FormatLoadTime renders d as "1.2s" from one second up, else "850ms",
// right padded to seven characters.
func FormatLoadTime(d time.Duration) string {
	var s string
	if d >= time.Second {
		s = fmt.Sprintf("%.1fs", d.Seconds())
	} else {
		s = fmt.Sprintf("%dms", d.Milliseconds())
	}
	for len(s) < 7 {
		s += " "
	}
	return s
}

func stamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
