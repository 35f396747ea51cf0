package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/metrics"
)

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([a-zA-Z0-9_-]{11})`)

// VideoID extracts the 11 character id from a watch, short or embed url. A
// bare id is returned unchanged.
func VideoID(urlOrID string) (string, error) {
	s := strings.TrimSpace(urlOrID)
	if m := videoIDPattern.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if len(s) == 11 && !strings.ContainsAny(s, "/?=&.:") {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVideo, urlOrID)
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return out, err
}

type YouTubeOptions struct {
	// TimedTextURL is the caption endpoint queried first. Empty skips it.
	TimedTextURL string
	// YTDLPPath is the yt-dlp binary used when the caption endpoint has nothing.
	YTDLPPath  string
	HTTPClient *http.Client
	Runner     CommandRunner
	Cache      *Cache
}

// YouTube fetches existing subtitles for a video; it never downloads media.
type YouTube struct {
	timedTextURL string
	ytdlp        string
	http         *http.Client
	run          CommandRunner
	cache        *Cache
	log          *logrus.Entry
}

func NewYouTube(o YouTubeOptions) *YouTube {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	run := o.Runner
	if run == nil {
		run = execRunner
	}
	ytdlp := o.YTDLPPath
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}
	return &YouTube{
		timedTextURL: o.TimedTextURL,
		ytdlp:        ytdlp,
		http:         client,
		run:          run,
		cache:        o.Cache,
		log:          logging.New("youtube"),
	}
}

// Fetch returns the transcript in lang, trying the caption endpoint first and
// yt-dlp second. ErrSubtitlesUnavailable means neither had that language.
func (y *YouTube) Fetch(ctx context.Context, videoURL, lang string) (Transcript, error) {
	if lang == "" {
		lang = "en"
	}
	id, err := VideoID(videoURL)
	if err != nil {
		return Transcript{}, err
	}
	log := y.log.WithFields(logrus.Fields{"video_id": id, "lang": lang})

	if y.cache != nil {
		if t, ok, err := y.cache.Get(id, lang); err != nil {
			log.WithError(err).Warn("transcript cache read failed")
		} else if ok {
			log.Debug("transcript cache hit")
			return t, nil
		}
	}

	t, err := y.fetchTimedText(ctx, id, lang)
	if err != nil {
		log.WithError(err).Debug("timedtext lookup failed, trying yt-dlp")
		t, err = y.fetchWithYTDLP(ctx, id, lang)
	}
	if err != nil {
		metrics.Transcriptions.WithLabelValues(SourceYouTube, "error").Inc()
		return Transcript{}, err
	}
	metrics.Transcriptions.WithLabelValues(SourceYouTube, "ok").Inc()

	if y.cache != nil {
		if err := y.cache.Put(id, lang, t); err != nil {
			log.WithError(err).Warn("transcript cache write failed")
		}
	}
	return t, nil
}

type json3Doc struct {
	Events []struct {
		TStartMs    float64 `json:"tStartMs"`
		DDurationMs float64 `json:"dDurationMs"`
		Segs        []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func (y *YouTube) fetchTimedText(ctx context.Context, id, lang string) (Transcript, error) {
	if y.timedTextURL == "" {
		return Transcript{}, ErrSubtitlesUnavailable
	}
	q := url.Values{"v": {id}, "lang": {lang}, "fmt": {"json3"}}
	body, err := y.get(ctx, y.timedTextURL+"?"+q.Encode())
	if err != nil {
		return Transcript{}, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Transcript{}, ErrSubtitlesUnavailable
	}

	var doc json3Doc
	if err := json.Unmarshal(body, &doc); err != nil {
		return Transcript{}, fmt.Errorf("decode timedtext: %w", err)
	}

	var b builder
	for _, ev := range doc.Events {
		var sb strings.Builder
		for _, s := range ev.Segs {
			sb.WriteString(s.UTF8)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		start := ev.TStartMs / 1000
		b.add(start, start+ev.DDurationMs/1000, text)
	}
	if len(b.segs) == 0 {
		return Transcript{}, ErrSubtitlesUnavailable
	}
	return b.build(), nil
}

type ytdlpInfo struct {
	RequestedSubtitles map[string]*struct {
		URL string `json:"url"`
		Ext string `json:"ext"`
	} `json:"requested_subtitles"`
}

func (y *YouTube) fetchWithYTDLP(ctx context.Context, id, lang string) (Transcript, error) {
	out, err := y.run(ctx, y.ytdlp,
		"-J", "--skip-download", "--write-subs", "--sub-format", "vtt", "--sub-langs", lang,
		"--no-warnings", "https://www.youtube.com/watch?v="+id)
	if err != nil {
		return Transcript{}, fmt.Errorf("yt-dlp: %w", err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return Transcript{}, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	sub, ok := info.RequestedSubtitles[lang]
	if !ok || sub == nil || sub.URL == "" {
		return Transcript{}, fmt.Errorf("%w: %s", ErrSubtitlesUnavailable, lang)
	}

	body, err := y.get(ctx, sub.URL)
	if err != nil {
		return Transcript{}, err
	}
	t, err := ParseVTT(string(body))
	if err != nil {
		return Transcript{}, err
	}
	if len(t.Segments) == 0 {
		return Transcript{}, fmt.Errorf("%w: %s has no cues", ErrSubtitlesUnavailable, lang)
	}
	return t, nil
}

func (y *YouTube) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := y.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", req.URL.Redacted(), resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
