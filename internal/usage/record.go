package usage

import (
	"context"

	"anima/internal/session"
)

// RecordingLauncher decorates a launcher so every session lands in the
// ledger, including failed ones that still consumed tokens.
type RecordingLauncher struct {
	Inner   session.Launcher
	Tracker *Tracker
}

func (l *RecordingLauncher) Launch(ctx context.Context, req session.Request, opts session.Options) (session.Result, error) {
	res, err := l.Inner.Launch(ctx, req, opts)
	if l.Tracker != nil {
		l.Tracker.Record(opts.Role, opts.Model, res.Usage)
	}
	return res, err
}
