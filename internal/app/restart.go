package app

import "context"

// restartFunc adapts a function to xray.Restarter.
type restartFunc func(ctx context.Context) error

func (f restartFunc) Restart(ctx context.Context) error { return f(ctx) }

// updateRestarter restarts through the manager so the restart is counted
// and serialized with other restarts, then drops the cached version.
func (a *App) updateRestarter() restartFunc {
	return func(ctx context.Context) error {
		defer a.Xray.ForgetVersion()
		return a.Manager.Restart(ctx)
	}
}
