package notifier

// TextNotifier is a minimal text notification interface. It is kept small
// so components can depend on it without importing a concrete transport.
type TextNotifier interface {
	SendText(text string) error
}

// Nop discards every message. Used when notifications are disabled.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
