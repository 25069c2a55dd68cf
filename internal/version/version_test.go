package version

import "testing"

func TestStringReflectsBuildVersion(t *testing.T) {
	cleanup := ForTesting("1.2.3-test")
	t.Cleanup(cleanup)

	if got := String(); got != "1.2.3-test" {
		t.Fatalf("expected version 1.2.3-test, got %s", got)
	}
}

func TestRelease(t *testing.T) {
	tests := []struct {
		name  string
		build string
		want  string
	}{
		{name: "plain", build: "0.3.0", want: "0.3.0"},
		{name: "v prefix", build: "v0.3.0", want: "0.3.0"},
		{name: "git describe", build: "v0.3.0-5-gabcdef", want: "0.3.0"},
		{name: "dev", build: "dev", want: "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := ForTesting(tt.build)
			defer cleanup()
			if got := Release(); got != tt.want {
				t.Errorf("Release() with %q = %q, want %q", tt.build, got, tt.want)
			}
		})
	}
}

func TestFormatVersion(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":       "",
		"dev":    "dev",
		"0.3.0":  "v0.3.0",
		"v0.3.0": "v0.3.0",
	}
	for in, want := range tests {
		if got := FormatVersion(in); got != want {
			t.Errorf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
