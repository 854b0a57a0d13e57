//go:build integration

package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jwebster45206/boothill-gm/integration/runner"
)

var caseFlag = flag.String("case", "", "Name of test case to run (from integration/cases/)")
var errFlag = flag.String("err", "continue", "Error handling mode: 'continue' (run all steps) or 'exit' (stop on first failure)")
var asyncFlag = flag.Bool("async", false, "Include cases that need a running worker (files ending in .async.json)")

func TestMain(m *testing.M) {
	flag.Parse()
	fmt.Printf("Running Boothill GM Integration Tests\n")
	fmt.Printf("   API Base URL: %s\n", apiBaseURL())
	os.Exit(m.Run())
}

func apiBaseURL() string {
	if v := os.Getenv("API_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func caseFiles(t *testing.T) []string {
	t.Helper()
	if *caseFlag != "" {
		name := *caseFlag
		if !strings.HasSuffix(name, ".json") {
			name += ".json"
		}
		return []string{filepath.Join("cases", name)}
	}

	files, err := filepath.Glob(filepath.Join("cases", "*.json"))
	if err != nil {
		t.Fatalf("Failed to list cases: %v", err)
	}
	var out []string
	for _, f := range files {
		if strings.HasSuffix(f, ".async.json") && !*asyncFlag {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func TestIntegrationSuites(t *testing.T) {
	testRunner := runner.NewRunner(apiBaseURL())
	testRunner.Timeout = time.Duration(getIntEnv("TEST_TIMEOUT_SECONDS", 90)) * time.Second
	testRunner.ErrorHandlingMode = runner.ErrorHandlingMode(*errFlag)
	testRunner.Logger = func(format string, args ...any) {
		fmt.Printf(format+"\n", args...)
	}

	ctx := context.Background()
	var passed, failed int

	for _, file := range caseFiles(t) {
		suite, err := runner.LoadTestSuite(file)
		if err != nil {
			t.Fatalf("Failed to load %s: %v", file, err)
		}

		t.Run(suite.Name, func(t *testing.T) {
			fmt.Printf("\n%s (%s)\n", suite.Name, filepath.Base(file))
			result, err := testRunner.RunSuite(ctx, suite)
			for _, r := range result.Results {
				if r.Success {
					passed++
				} else {
					failed++
				}
			}
			if err != nil {
				t.Errorf("suite %s failed after %v (session %s): %v", suite.Name, result.Duration, result.SessionID, err)
			}
		})
	}

	fmt.Printf("\nSteps passed: %d, failed: %d\n", passed, failed)
}
