package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
)

func main() {
	strict := flag.Bool("strict", false, "fail when the decision scores below the quality bar")
	themes := flag.String("themes", "", "comma-separated narrative themes to score relevance against")
	characters := flag.String("characters", "", "comma-separated characters in focus")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <response.txt|->\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	v := &DecisionValidator{strict: *strict}
	if *themes != "" || *characters != "" {
		v.quality = &decision.QualityContext{
			Themes:         splitList(*themes),
			CharacterFocus: splitList(*characters),
		}
	}

	if err := v.validateFile(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Decision response is valid!")
}

// DecisionValidator checks raw model output the way the engine would see it.
type DecisionValidator struct {
	strict  bool
	quality *decision.QualityContext
	errors  []string
}

func (v *DecisionValidator) validateFile(filename string) error {
	data, err := readInput(filename)
	if err != nil {
		return err
	}
	fmt.Printf("Validating %s...\n", filename)

	v.errors = nil
	d, err := engine.ParseDecisionResponse(string(data), time.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}

	q := decision.EvaluateDecisionQuality(&d, v.quality)
	v.validateDecision(&d, q)
	report(os.Stdout, &d, q)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *DecisionValidator) validateDecision(d *decision.PlayerDecision, q decision.QualityResult) {
	if len(d.Options) < 2 {
		v.addError(fmt.Sprintf("decision has %d options, at least 2 are required", len(d.Options)))
	}
	for _, o := range d.Options {
		if o.Impact == "" {
			v.addError(fmt.Sprintf("option %q has no impact description", o.ID))
		}
	}
	if v.strict && !q.Acceptable {
		v.addError(fmt.Sprintf("quality score %.2f is below %.2f", q.Score, decision.AcceptableQuality))
	}
}

func (v *DecisionValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

func report(w io.Writer, d *decision.PlayerDecision, q decision.QualityResult) {
	fmt.Fprintf(w, "Prompt: %s\n", d.Prompt)
	fmt.Fprintf(w, "Importance: %s\n", d.Importance)
	for i, o := range d.Options {
		fmt.Fprintf(w, "  %d. [%s] %s", i+1, o.ID, o.Text)
		if o.Impact != "" {
			fmt.Fprintf(w, " (%s)", o.Impact)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Quality: %.2f (acceptable: %t)\n", q.Score, q.Acceptable)
	for _, s := range q.Suggestions {
		fmt.Fprintf(w, "  suggestion: %s\n", s)
	}
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return data, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
