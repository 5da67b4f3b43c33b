package harvest

import "go.uber.org/zap"

// Observer receives progress and status updates on the harvesting
// goroutine. Implementations must not block for long.
type Observer interface {
	OnProgress(percent, current, total int)
	OnStatus(message string)
}

// ObserverFuncs adapts plain functions to Observer. Either may be nil.
type ObserverFuncs struct {
	Progress func(percent, current, total int)
	Status   func(message string)
}

func (o ObserverFuncs) OnProgress(percent, current, total int) {
	if o.Progress != nil {
		o.Progress(percent, current, total)
	}
}

func (o ObserverFuncs) OnStatus(message string) {
	if o.Status != nil {
		o.Status(message)
	}
}

// guardedObserver logs every status line and keeps a misbehaving observer
// from unwinding the harvest.
type guardedObserver struct {
	next   Observer
	logger *zap.SugaredLogger
}

func guard(obs Observer, logger *zap.SugaredLogger) *guardedObserver {
	return &guardedObserver{next: obs, logger: logger}
}

func (g *guardedObserver) OnProgress(percent, current, total int) {
	if g.next == nil {
		return
	}
	defer g.recoverPanic("progress")
	g.next.OnProgress(percent, current, total)
}

func (g *guardedObserver) OnStatus(message string) {
	g.logger.Debug(message)
	if g.next == nil {
		return
	}
	defer g.recoverPanic("status")
	g.next.OnStatus(message)
}

func (g *guardedObserver) recoverPanic(kind string) {
	if r := recover(); r != nil {
		g.logger.Warnf("%s observer panicked: %v", kind, r)
	}
}
