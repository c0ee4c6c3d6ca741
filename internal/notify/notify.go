// Package notify は操作結果を利用者へ知らせる通知の境界を定義する。
// すべての更新操作は成功・失敗のどちらでもちょうど1件の通知を発行する。
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Level は通知の種別。
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice は利用者に表示する1件の通知。
type Notice struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier は通知の送信先。
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
}

// LogNotifier は通知を構造化ログとして出力する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Success(title, message string) {
	n.logger.Info(title, slog.String("notice", string(LevelSuccess)), slog.String("message", message))
}

func (n *LogNotifier) Error(title, message string) {
	n.logger.Warn(title, slog.String("notice", string(LevelError)), slog.String("message", message))
}

// Recorder は直近の通知を保持し、別のNotifierへも転送する。
// コンソールAPIの通知一覧に使う。
type Recorder struct {
	next  Notifier
	limit int
	now   func() time.Time

	mu      sync.Mutex
	notices []Notice
}

// NewRecorder はRecorderを生成する。nextはnilでもよい。limitが0以下の場合は50件。
func NewRecorder(next Notifier, limit int) *Recorder {
	if limit <= 0 {
		limit = 50
	}
	return &Recorder{next: next, limit: limit, now: time.Now}
}

func (r *Recorder) Success(title, message string) {
	r.add(LevelSuccess, title, message)
	if r.next != nil {
		r.next.Success(title, message)
	}
}

func (r *Recorder) Error(title, message string) {
	r.add(LevelError, title, message)
	if r.next != nil {
		r.next.Error(title, message)
	}
}

func (r *Recorder) add(level Level, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Title: title, Message: message, At: r.now()})
	if over := len(r.notices) - r.limit; over > 0 {
		r.notices = append(r.notices[:0:0], r.notices[over:]...)
	}
}

// Recent は保持している通知を新しい順に返す。
func (r *Recorder) Recent() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	for i, n := range r.notices {
		out[len(r.notices)-1-i] = n
	}
	return out
}

// compile-time interface check
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
)
