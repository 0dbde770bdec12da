package notify

import (
	"log/slog"
	"time"

	"golang.org/x/text/message"
)

type Level int

const (
	LevelSuccess Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "success"
}

// Notice is one user-facing toast.
type Notice struct {
	Level Level
	Key   Key
	Text  string
	Err   error
	At    time.Time
}

type Notifier interface {
	Success(key Key, args ...any)
	Error(key Key, err error, args ...any)
}

// Toaster renders notices in the configured language and publishes them on a
// buffered channel. When nobody drains the channel new notices are dropped.
type Toaster struct {
	printer *message.Printer
	notices chan Notice
	log     *slog.Logger
	now     func() time.Time
}

func NewToaster(lang string, buffer int) *Toaster {
	return &Toaster{
		printer: NewPrinter(lang),
		notices: make(chan Notice, max(buffer, 1)),
		log:     slog.Default().With("component", "notify"),
		now:     time.Now,
	}
}

func (t *Toaster) Notices() <-chan Notice {
	return t.notices
}

func (t *Toaster) Success(key Key, args ...any) {
	t.publish(Notice{Level: LevelSuccess, Key: key, Text: t.printer.Sprintf(string(key), args...)})
}

func (t *Toaster) Error(key Key, err error, args ...any) {
	t.publish(Notice{Level: LevelError, Key: key, Text: t.printer.Sprintf(string(key), args...), Err: err})
}

func (t *Toaster) publish(n Notice) {
	n.At = t.now()
	if n.Level == LevelError {
		t.log.Warn(n.Text, "key", n.Key, "error", n.Err)
	} else {
		t.log.Info(n.Text, "key", n.Key)
	}
	select {
	case t.notices <- n:
	default:
		t.log.Debug("notice dropped", "key", n.Key)
	}
}

// Discard is a Notifier that ignores everything.
type Discard struct{}

func (Discard) Success(Key, ...any)      {}
func (Discard) Error(Key, error, ...any) {}
