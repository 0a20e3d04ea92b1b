package cmd

// Options holds the shared command-line options for the ghvault CLI.
type Options struct {
	OutputDir string
	Host      string
	Verbosity int

	// Credential inputs; unset fields fall back to the environment
	Token          string
	AppID          int64
	PrivateKey     string
	InstallationID int64

	// Artifact selection
	Everything    bool
	Repos         bool
	Wikis         bool
	Issues        bool
	IssueComments bool
	IssueEvents   bool
	Pulls         bool
	PullComments  bool
	PullCommits   bool
	PullDetails   bool
	Labels        bool
	Milestones    bool
	Hooks         bool
	Releases      bool
	Assets        bool

	// Repository selection
	Repository string
	NameRegex  string
	Languages  []string
	Exclude    []string

	// Release selection
	LatestReleases int
	SkipPrerelease bool

	// Pacing
	ThrottleLimit int
	ThrottlePause float64 // seconds
	Workers       int

	// Behavior
	Incremental  bool
	SkipExisting bool
	Bare         bool
	NoPrune      bool
	DryRun       bool
}

// Option is a functional option for configuring Options.
type Option func(*Options)

// NewOptions creates a new Options with defaults and applies any provided options.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		OutputDir:     ".",
		Workers:       1,
		ThrottlePause: 30,
		Repos:         true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithOutputDir sets the backup output directory.
func WithOutputDir(dir string) Option {
	return func(o *Options) {
		o.OutputDir = dir
	}
}

// WithHost sets the GitHub Enterprise hostname.
func WithHost(host string) Option {
	return func(o *Options) {
		o.Host = host
	}
}

// WithVerbosity sets the verbosity level.
func WithVerbosity(v int) Option {
	return func(o *Options) {
		o.Verbosity = v
	}
}

// WithToken sets the personal access token.
func WithToken(token string) Option {
	return func(o *Options) {
		o.Token = token
	}
}

// WithAppCredentials sets the GitHub App identity.
func WithAppCredentials(appID int64, privateKey string, installationID int64) Option {
	return func(o *Options) {
		o.AppID = appID
		o.PrivateKey = privateKey
		o.InstallationID = installationID
	}
}

// WithEverything backs up all artifact types.
func WithEverything(all bool) Option {
	return func(o *Options) {
		o.Everything = all
	}
}

// WithWorkers sets the number of concurrent installation workers.
func WithWorkers(workers int) Option {
	return func(o *Options) {
		o.Workers = workers
	}
}

// WithThrottle sets the rate-limit pacing threshold and pause seconds.
func WithThrottle(limit int, pauseSeconds float64) Option {
	return func(o *Options) {
		o.ThrottleLimit = limit
		o.ThrottlePause = pauseSeconds
	}
}

// WithIncremental skips entities unchanged since the last backup.
func WithIncremental(incremental bool) Option {
	return func(o *Options) {
		o.Incremental = incremental
	}
}

// WithDryRun enumerates repositories without backing anything up.
func WithDryRun(dryRun bool) Option {
	return func(o *Options) {
		o.DryRun = dryRun
	}
}
