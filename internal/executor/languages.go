package executor

import "strings"

// languageDefaults maps a language to its default build/run commands.
// Explicit request commands always win over these.
type languageDefaults struct {
	Build string
	Run   string
	// BuildPrecondition names a file that must exist in the scratch dir
	// for the build step to run at all. Empty means the build always runs.
	BuildPrecondition string
}

var defaults = map[string]languageDefaults{
	"python": {
		Build:             "pip install -r requirements.txt",
		Run:               "python main.py",
		BuildPrecondition: "requirements.txt",
	},
	"java": {
		Build: "javac *.java",
		Run:   "java Main",
	},
	"c": {
		Build: "gcc *.c -o app",
		Run:   "./app",
	},
	"cpp": {
		Build: "g++ *.cpp -o app",
		Run:   "./app",
	},
	"go": {
		Build: "go build -o app .",
		Run:   "./app",
	},
}

var languageAliases = map[string]string{
	"py":     "python",
	"python": "python",
	"java":   "java",
	"c":      "c",
	"cpp":    "cpp",
	"c++":    "cpp",
	"go":     "go",
	"golang": "go",
}

// NormalizeLanguage maps user-supplied language names onto the canonical
// set. Unknown languages pass through lowercased; they only execute when
// the request carries an explicit run command.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if canonical, ok := languageAliases[lang]; ok {
		return canonical
	}
	return lang
}

// DefaultCommands returns the default build/run commands for a language.
// Both are empty for languages without defaults.
func DefaultCommands(lang string) languageDefaults {
	return defaults[NormalizeLanguage(lang)]
}
