package logger_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/TencentBlueKing/bk-user-sub004/internal/logger"
)

func TestLogger(t *testing.T) {
	type testCase struct {
		name             string
		cfg              logger.Log
		shouldHaveOutPut bool
		outPutIsJSON     bool
	}

	testCases := []testCase{
		{
			name: "no logger enabled log level not set",
			cfg: logger.Log{
				LogLevel:    "",
				ServiceName: "test",
				AppName:     "test",
			},
			shouldHaveOutPut: false,
		},
		{
			name: "console enabled log level info",
			cfg: logger.Log{
				LogLevel:    "info",
				ServiceName: "test",
				AppName:     "test",
				Console:     logger.Console{Enabled: true},
			},
			shouldHaveOutPut: true,
			outPutIsJSON:     true,
		},
		{
			name: "console enabled console writer enabled",
			cfg: logger.Log{
				LogLevel:    "info",
				ServiceName: "test",
				AppName:     "test",
				Console:     logger.Console{Enabled: true, UseConsoleWriter: true},
			},
			shouldHaveOutPut: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Capture stdout while the logger writes one info line.
			original := os.Stdout

			read, write, err := os.Pipe()
			if err != nil {
				t.Fatalf("failed to create pipe: %v", err)
			}

			os.Stdout = write

			if errInit := logger.Init(tc.cfg); errInit != nil {
				os.Stdout = original

				t.Fatalf("Init() error = %v", errInit)
			}

			log.Info().Msg("test message")

			_ = write.Close()
			os.Stdout = original

			var buf bytes.Buffer
			_, _ = io.Copy(&buf, read)

			output := buf.String()

			if tc.shouldHaveOutPut && output == "" {
				t.Error("expected log output, got none")
			}

			if !tc.shouldHaveOutPut && strings.Contains(output, "test message") {
				t.Errorf("expected no log output, got %q", output)
			}

			if tc.outPutIsJSON {
				var decoded map[string]any
				if errJSON := json.Unmarshal([]byte(strings.TrimSpace(output)), &decoded); errJSON != nil {
					t.Errorf("expected JSON output, got %q", output)
				}
			}
		})
	}
}

func TestInitRejectsEmptyNames(t *testing.T) {
	if err := logger.Init(logger.Log{LogLevel: "info", AppName: "test"}); err == nil {
		t.Error("Init() with empty service name should fail")
	}

	if err := logger.Init(logger.Log{LogLevel: "info", ServiceName: "test"}); err == nil {
		t.Error("Init() with empty app name should fail")
	}

	if err := logger.Init(logger.Log{LogLevel: "bogus", ServiceName: "test", AppName: "test"}); err == nil {
		t.Error("Init() with an unknown log level should fail")
	}
}
