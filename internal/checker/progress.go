package checker

// ProgressReporter provides callbacks for reporting check progress.
// Callbacks for different apps may arrive concurrently.
type ProgressReporter interface {
	// OnDiscoveryComplete is called once discovery has found every app.
	OnDiscoveryComplete(apps, files int)

	// OnFileProcessed is called after each migration file is folded.
	OnFileProcessed(app, fileName string)

	// OnAppComplete is called when an app finishes, err is nil on success.
	OnAppComplete(app string, err error)

	// OnComplete is called when every app has finished.
	OnComplete(report *Report)
}

// NoOpProgressReporter is a progress reporter that does nothing.
type NoOpProgressReporter struct{}

func (NoOpProgressReporter) OnDiscoveryComplete(apps, files int)  {}
func (NoOpProgressReporter) OnFileProcessed(app, fileName string) {}
func (NoOpProgressReporter) OnAppComplete(app string, err error)  {}
func (NoOpProgressReporter) OnComplete(report *Report)            {}
