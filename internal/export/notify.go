package export

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"
)

const notifyTitle = "framelapse"

// Notifier tells the user an export job has ended.
type Notifier interface {
	ExportFinished(title string, art *Artifact)
	ExportFailed(title string, err error)
}

// DesktopNotifier shows native desktop notifications.
type DesktopNotifier struct{}

func (DesktopNotifier) ExportFinished(title string, art *Artifact) {
	_ = beeep.Notify(notifyTitle, fmt.Sprintf("%s exported as %s", title, art.Name), "")
}

func (DesktopNotifier) ExportFailed(title string, err error) {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	_ = beeep.Notify(notifyTitle, fmt.Sprintf("Export of %s failed: %s", title, msg), "")
}

type nopNotifier struct{}

func (nopNotifier) ExportFinished(string, *Artifact) {}
func (nopNotifier) ExportFailed(string, error)       {}

// NewNotifier returns a desktop notifier, or one that does nothing when disabled.
func NewNotifier(enabled bool) Notifier {
	if enabled {
		return DesktopNotifier{}
	}
	return nopNotifier{}
}
