package realtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Source は変更通知の供給元を抽象化する。
// Notificationsがnilを送ってきた場合は再接続を意味し、その間の通知は失われている可能性がある。
type Source interface {
	Notifications() <-chan *pq.Notification
	Ping() error
	Close() error
}

// PostgresSource はpq.ListenerによるLISTEN/NOTIFYの通知元。
type PostgresSource struct {
	listener *pq.Listener
}

// NewPostgresSource は指定チャネルをLISTENする通知元を生成する。
// 接続が切れた場合はminReconnectからmaxReconnectの間隔で再接続を試みる。
func NewPostgresSource(databaseURL, channel string, minReconnect, maxReconnect time.Duration, logger *slog.Logger) (*PostgresSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	listener := pq.NewListener(databaseURL, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("realtime listener connected", slog.String("channel", channel))
		case pq.ListenerEventDisconnected:
			logger.Warn("realtime listener disconnected", slog.String("error", errString(err)))
		case pq.ListenerEventReconnected:
			logger.Info("realtime listener reconnected", slog.String("channel", channel))
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("realtime listener connection attempt failed", slog.String("error", errString(err)))
		}
	})

	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", channel, err)
	}

	return &PostgresSource{listener: listener}, nil
}

// Notifications は通知チャネルを返す。
func (s *PostgresSource) Notifications() <-chan *pq.Notification {
	return s.listener.Notify
}

// Ping は接続の生存確認を行う。
func (s *PostgresSource) Ping() error {
	return s.listener.Ping()
}

// Close はLISTENを終了して接続を閉じる。
func (s *PostgresSource) Close() error {
	return s.listener.Close()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
