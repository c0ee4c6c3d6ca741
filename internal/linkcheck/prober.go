// Package linkcheck は保存済みグループリンクの到達性を確認する。
// リクエストはSSRF対策済みのHTTPクライアントで送信し、レートリミッターで間隔を空ける。
package linkcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// URLValidator はリクエスト前の静的なURL検証。security.URLGuardが実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Result はリンク確認の結果。
type Result struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Reachable  bool          `json:"reachable"`
	Title      string        `json:"title,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Config はProberの設定。
type Config struct {
	Interval time.Duration // リクエスト間の最小間隔
	MaxSize  int64         // 読み込むレスポンスボディの上限
}

// Observer は確認結果を観測する。metrics.Collectorが実装する。
type Observer interface {
	RecordLinkProbe(statusCode int, duration time.Duration)
}

// Option はProberの任意設定。
type Option func(*Prober)

// WithObserver は観測先を設定する。
func WithObserver(o Observer) Option {
	return func(p *Prober) {
		p.observer = o
	}
}

// Prober はグループリンクにGETリクエストを送り、ステータスとページタイトルを取得する。
type Prober struct {
	client    *http.Client
	validator URLValidator
	limiter   *rate.Limiter
	maxSize   int64
	observer  Observer
	logger    *slog.Logger
}

// NewProber はProberを生成する。clientにはsecurity.URLGuard.NewSafeClientの結果を渡す。
func NewProber(client *http.Client, validator URLValidator, cfg Config, logger *slog.Logger, opts ...Option) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1 << 20
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	p := &Prober{
		client:    client,
		validator: validator,
		limiter:   rate.NewLimiter(limit, 1),
		maxSize:   cfg.MaxSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe はURLを確認する。URLが検証を通らない場合や接続できない場合はエラーを返す。
// 2xx以外のステータスはエラーではなくReachable=falseとして返す。
func (p *Prober) Probe(ctx context.Context, rawURL string) (*Result, error) {
	if p.validator != nil {
		if err := p.validator.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("URLが許可されていません: %w", err)
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Fleetdesk/1.0 LinkCheck")
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("link probe failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	result := &Result{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Reachable:  resp.StatusCode >= 200 && resp.StatusCode < 300,
		CheckedAt:  start,
	}

	if result.Reachable && isHTML(resp.Header.Get("Content-Type")) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize))
		if err != nil {
			p.logger.Warn("failed to read link body", slog.String("url", rawURL), slog.String("error", err.Error()))
		} else {
			result.Title = ExtractTitle(body)
		}
	}
	result.Duration = time.Since(start)
	if p.observer != nil {
		p.observer.RecordLinkProbe(resp.StatusCode, result.Duration)
	}

	p.logger.Info("link probed",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Float64("duration_ms", float64(result.Duration.Milliseconds())),
	)
	return result, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ExtractTitle はHTMLからページタイトルを取り出す。
// og:titleがあればそれを優先し、なければ<title>の内容を返す。
func ExtractTitle(body []byte) string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	var (
		title   string
		ogTitle string
		inTitle bool
	)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return pickTitle(ogTitle, title)

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			switch string(name) {
			case "title":
				inTitle = title == ""
			case "meta":
				if hasAttr && ogTitle == "" {
					ogTitle = ogTitleOf(tokenizer)
				}
			case "body":
				if ogTitle != "" || title != "" {
					return pickTitle(ogTitle, title)
				}
			}

		case html.TextToken:
			if inTitle {
				title += string(tokenizer.Text())
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "title":
				inTitle = false
			case "head":
				return pickTitle(ogTitle, title)
			}
		}
	}
}

func ogTitleOf(tokenizer *html.Tokenizer) string {
	var property, content string
	for {
		key, val, more := tokenizer.TagAttr()
		switch strings.ToLower(string(key)) {
		case "property", "name":
			property = strings.ToLower(string(val))
		case "content":
			content = string(val)
		}
		if !more {
			break
		}
	}
	if property == "og:title" {
		return content
	}
	return ""
}

func pickTitle(ogTitle, title string) string {
	if t := strings.TrimSpace(ogTitle); t != "" {
		return collapseSpace(t)
	}
	return collapseSpace(strings.TrimSpace(title))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
