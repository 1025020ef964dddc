package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetup_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	Info("segment ready", "name", "lab_net")

	output := buf.String()
	if !strings.Contains(output, "segment ready") {
		t.Errorf("Expected 'segment ready' in output, got: %s", output)
	}
	if !strings.Contains(output, "name=lab_net") {
		t.Errorf("Expected 'name=lab_net' in output, got: %s", output)
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, true, &buf)

	Info("segment ready", "name", "lab_net")

	output := buf.String()
	if !strings.Contains(output, `"msg":"segment ready"`) {
		t.Errorf("Expected JSON msg in output, got: %s", output)
	}
}

func TestSetup_Verbosity(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{"verbose", true, true},
		{"quiet", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Setup(tt.verbose, false, &buf)

			if Verbose != tt.verbose {
				t.Errorf("Verbose = %v, want %v", Verbose, tt.verbose)
			}

			Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.wantDebug {
				t.Errorf("debug visible = %v, want %v (output: %s)", got, tt.wantDebug, buf.String())
			}
		})
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	Warn("warn test")
	Error("error test")

	output := buf.String()
	for _, want := range []string{"level=WARN", "warn test", "level=ERROR", "error test"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	logger := With("component", "ipam")
	logger.Info("with test")

	output := buf.String()
	if !strings.Contains(output, "component=ipam") {
		t.Errorf("Expected 'component=ipam' in output, got: %s", output)
	}
}

func TestSetup_NilWriter(t *testing.T) {
	Setup(false, false, nil)
	if Logger == nil {
		t.Error("Logger should not be nil after Setup with nil writer")
	}
}

func TestUserOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	SetUserOutput(&out, &errOut)
	defer SetUserOutput(nil, nil)

	UserInfo("using network %s", "lab_net")
	UserSuccess("created")
	UserWarning("subnet differs")
	UserError("failed: %v", "boom")

	if got := out.String(); got != "ℹ using network lab_net\n✓ created\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "⚠ subnet differs\n✗ failed: boom\n" {
		t.Errorf("stderr = %q", got)
	}
}
