package engine

// Notifier receives progress updates from WithNotify mutations.
// The scheduler host implements it. The work order lock is released before
// NotifyProgressUpdate is invoked, so implementations may read the work order.
type Notifier interface {
	// NotifyProgressUpdate is called once per WithNotify mutation.
	NotifyProgressUpdate(wo *WorkOrder)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(wo *WorkOrder)

// NotifyProgressUpdate implements Notifier.
func (f NotifierFunc) NotifyProgressUpdate(wo *WorkOrder) {
	f(wo)
}

// Notifiers fans a notification out to several notifiers in order.
type Notifiers []Notifier

// NotifyProgressUpdate implements Notifier.
func (ns Notifiers) NotifyProgressUpdate(wo *WorkOrder) {
	for _, n := range ns {
		if n != nil {
			n.NotifyProgressUpdate(wo)
		}
	}
}
