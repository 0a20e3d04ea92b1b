package backup

// Account is the user or organization an installation is bound to.
type Account struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// Installation is one installation of the GitHub App.
type Installation struct {
	ID                  int64   `json:"id"`
	Account             Account `json:"account"`
	RepositorySelection string  `json:"repository_selection"`
}

// Repository is the slice of the repository document the orchestrator
// needs for cloning, filtering, and output layout.
type Repository struct {
	Name      string  `json:"name"`
	FullName  string  `json:"full_name"`
	Owner     Account `json:"owner"`
	Language  string  `json:"language"`
	Private   bool    `json:"private"`
	HasWiki   bool    `json:"has_wiki"`
	UpdatedAt string  `json:"updated_at"`
	PushedAt  string  `json:"pushed_at"`
}

// Include selects which artifacts a backup covers. Everything turns on
// all of them except PullDetails, which multiplies API calls by the
// number of pull requests and stays opt-in.
type Include struct {
	Everything    bool
	Repository    bool
	Wiki          bool
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
}

func (i Include) repository() bool    { return i.Repository || i.Everything }
func (i Include) wiki() bool          { return i.Wiki || i.Everything }
func (i Include) issues() bool        { return i.Issues || i.Everything }
func (i Include) issueComments() bool { return i.IssueComments || i.Everything }
func (i Include) issueEvents() bool   { return i.IssueEvents || i.Everything }
func (i Include) pulls() bool         { return i.Pulls || i.Everything }
func (i Include) pullComments() bool  { return i.PullComments || i.Everything }
func (i Include) pullCommits() bool   { return i.PullCommits || i.Everything }
func (i Include) labels() bool        { return i.Labels || i.Everything }
func (i Include) milestones() bool    { return i.Milestones || i.Everything }
func (i Include) hooks() bool         { return i.Hooks || i.Everything }
func (i Include) releases() bool      { return i.Releases || i.Everything }
func (i Include) assets() bool        { return i.Assets || i.Everything }
