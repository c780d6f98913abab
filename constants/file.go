package constants

// Layout of a task workspace. The external tool runs with the workspace as its
// working directory and writes into ArtifactDir.
const (
	ArtifactDir      = "output"
	ArtifactFile     = "result.json"
	ScreenshotFile   = "screenshot.png"
	HTMLSnapshotFile = "html_snapshot.html"
	ValidatorLogFile = "validator.log"
)

// Report file names written under the report directory.
const (
	ReportJSONFile = "valid_coupons.json"
	ReportXLSXFile = "valid_coupons.xlsx"
	ActionsFile    = "actions.json"
	CandidatesFile = "coupon_codes.json"
)

// ArtifactContentTypes maps workspace file extensions to upload content types.
var ArtifactContentTypes = map[string]string{
	"json": "application/json",
	"png":  "image/png",
	"html": "text/html",
	"log":  "text/plain",
}
