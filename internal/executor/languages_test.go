package executor

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"python":  "python",
		"py":      "python",
		"Python":  "python",
		" GOLANG": "go",
		"c++":     "cpp",
		"CPP":     "cpp",
		"java":    "java",
		"rust":    "rust",
		"":        "",
	}
	for input, want := range cases {
		if got := NormalizeLanguage(input); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDefaultCommands(t *testing.T) {
	d := DefaultCommands("py")
	if d.Run != "python main.py" {
		t.Fatalf("unexpected python run command: %q", d.Run)
	}
	if d.BuildPrecondition != "requirements.txt" {
		t.Fatalf("expected python build gated on requirements.txt, got %q", d.BuildPrecondition)
	}

	d = DefaultCommands("c++")
	if d.Build != "g++ *.cpp -o app" || d.Run != "./app" {
		t.Fatalf("unexpected cpp defaults: %+v", d)
	}
	if d.BuildPrecondition != "" {
		t.Fatal("cpp build must not be gated on a precondition file")
	}

	d = DefaultCommands("brainfuck")
	if d.Build != "" || d.Run != "" {
		t.Fatalf("expected empty defaults for unknown language, got %+v", d)
	}
}
