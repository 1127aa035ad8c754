package miner

import (
	"fmt"
	"time"
)

// NotificationKind classifies notifications.
type NotificationKind uint8

const (
	// NotifyFinished is sent once a root's crawl pass has been fully drained.
	NotifyFinished NotificationKind = iota
	// NotifyError carries a per-item, per-subtree or event source failure.
	NotifyError
	// NotifyProgress reports crawl progress for a root.
	NotifyProgress
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyFinished:
		return "finished"
	case NotifyError:
		return "error"
	case NotifyProgress:
		return "progress"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Progress is a snapshot of the work for one root.
type Progress struct {
	Generation uint64 `json:"generation"`
	Crawled    int    `json:"crawled"`
	Queued     int    `json:"queued"`
}

// Notification is delivered on Engine.Notifications. Sends never block the
// engine: when the buffer is full the notification is dropped and counted.
type Notification struct {
	Kind     NotificationKind
	Root     string
	Path     string
	Err      error
	Progress Progress
	Time     time.Time
}

func (n Notification) String() string {
	switch n.Kind {
	case NotifyFinished:
		return fmt.Sprintf("finished %s", n.Root)
	case NotifyError:
		return fmt.Sprintf("error %s: %v", n.Path, n.Err)
	default:
		return fmt.Sprintf("progress %s: crawled=%d queued=%d", n.Root, n.Progress.Crawled, n.Progress.Queued)
	}
}
