package agent

import "log"

// Notifier receives lifecycle notifications from the watcher-driven timer
// and revert machinery. timer and revert each depend on their own narrow
// Notifier interface; logNotifier satisfies both with a single logging
// sink.
type Notifier interface {
	Notify(event, path, message string)
}

// logNotifier is the default Notifier: every event is logged at a level
// chosen by its name, matching the teacher's "[INFO]/[WARN]/[ERR]" prefix
// convention throughout command/agent.
type logNotifier struct {
	logger *log.Logger
}

func newLogNotifier(logger *log.Logger) *logNotifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(event, path, message string) {
	switch event {
	case "revert_failed", "revert_error":
		n.logger.Printf("[WARN] agent: %s", message)
	case "expired":
		n.logger.Printf("[WARN] agent: %s", message)
	default:
		n.logger.Printf("[INFO] agent: %s", message)
	}
}
