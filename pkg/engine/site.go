package engine

import (
	"regexp"

	"github.com/triflow-ai/smoke/pkg/browser"
)

// Step labels, in pipeline order.
const (
	StepOpenLogin       = "Open login"
	StepSubmitLogin     = "Submit login"
	StepLoginComplete   = "Login complete"
	StepOpenCreate      = "Open new opportunity page"
	StepSubmitAnalyze   = "Submit analyze with intelligence"
	StepReachedAnalysis = "Reached analysis page"
	StepOpenHypotheses  = "Open hypotheses page"
	StepClickAddFirst   = "Click Add First Hypothesis"
	StepClickAdd        = "Click Add Hypothesis"
	StepNoAddButton     = "No add button found; checking existing hypotheses"
	StepVerify          = "Verify hypotheses visible"
)

const (
	loginPath      = "/login"
	dashboardPath  = "/dashboard"
	createPath     = "/dashboard/new-opportunity"
	hypothesesPath = "/dashboard/new-opportunity/analysis/hypotheses"
	idParam        = "opportunityId"

	opportunityNamePrefix = "E2E MCP Opportunity "
	problemStatement      = "Users struggle to complete key flows on mobile during peak hours; drop-offs increased 18% QoQ. E2E test."

	// MissingIdentifierMessage is the fixed error when the analysis page lacks an id.
	MissingIdentifierMessage = "Missing opportunityId"
	// NavigationMismatchPrefix precedes the reached URL in navigation failures.
	NavigationMismatchPrefix = "Did not reach analysis page: "
)

var (
	dashboardURL = regexp.MustCompile(`/dashboard(/|$)`)
	analysisURL  = regexp.MustCompile(`/dashboard/new-opportunity/analysis`)

	emailInput    = browser.CSS("#email")
	passwordInput = browser.CSS("#password")
	submitButton  = browser.CSS(`button[type="submit"]`)
	nameInput     = browser.CSS(`input[name="name"]`)
	problemInput  = browser.CSS(`textarea[name="problem_statement"]`)

	hypothesisRows  = browser.CSS("table tbody tr")
	hypothesisCards = browser.RolePattern(browser.RoleHeading, regexp.MustCompile(`(?i)Hypothesis`))

	createHypothesisRequest = browser.ResponseMatch{Method: "POST", URLContains: "/api/opportunities/"}
)

type affordance struct {
	locator browser.Locator
	label   string
}

// affordances are probed in order; at most one is clicked.
var affordances = []affordance{
	{locator: browser.Role(browser.RoleButton, "Add First Hypothesis"), label: StepClickAddFirst},
	{locator: browser.Role(browser.RoleButton, "Add Hypothesis"), label: StepClickAdd},
}
